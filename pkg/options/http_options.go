package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*HttpOptions)(nil)

// HttpOptions contains configuration items for the local status server that
// serves the standby page, the player and the status API.
type HttpOptions struct {
	// Address with server address.
	Addr string `json:"addr" mapstructure:"addr"`

	// StaticDir is the directory holding the standby and player pages.
	StaticDir string `json:"static-dir" mapstructure:"static-dir"`

	// ShutdownTimeout bounds graceful shutdown of the server.
	ShutdownTimeout time.Duration `json:"shutdown-timeout" mapstructure:"shutdown-timeout"`
}

// NewHttpOptions creates a HttpOptions object with default parameters.
func NewHttpOptions() *HttpOptions {
	return &HttpOptions{
		Addr:            "127.0.0.1:3000",
		StaticDir:       "/opt/onesibox/web",
		ShutdownTimeout: 5 * time.Second,
	}
}

// Validate is used to parse and validate the parameters entered by the user at
// the command line when the program starts.
func (o *HttpOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errors := []error{}

	if err := ValidateAddress(o.Addr); err != nil {
		errors = append(errors, err)
	}
	if o.ShutdownTimeout <= 0 {
		errors = append(errors, fmt.Errorf("http.shutdown-timeout must be positive"))
	}

	return errors
}

// AddFlags adds flags related to the local HTTP server to the specified FlagSet.
func (o *HttpOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Addr, "http.addr", o.Addr, "Bind address of the local status server.")
	fs.StringVar(&o.StaticDir, "http.static-dir", o.StaticDir, "Directory with the standby and player pages.")
	fs.DurationVar(&o.ShutdownTimeout, "http.shutdown-timeout", o.ShutdownTimeout, "Grace period for stopping the local server.")
}
