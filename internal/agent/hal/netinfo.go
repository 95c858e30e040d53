package hal

import "net"

// PrimaryIPv4 returns the first IPv4 address of an interface that is up and
// not a loopback, with the interface name. Both are empty when offline.
func PrimaryIPv4() (ip, iface string) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "", ""
	}
	for _, i := range ifaces {
		if i.Flags&net.FlagUp == 0 || i.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := i.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			if ipn, ok := a.(*net.IPNet); ok && ipn.IP.To4() != nil {
				return ipn.IP.String(), i.Name
			}
		}
	}
	return "", ""
}
