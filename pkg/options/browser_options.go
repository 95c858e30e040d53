package options

import (
	"fmt"
	"net/url"

	"github.com/spf13/pflag"
)

var _ IOptions = (*BrowserOptions)(nil)

// Strategy names accepted by --browser.strategy.
var browserStrategies = map[string]bool{"auto": true, "chromedp": true, "process": true, "xdotool": true}

// BrowserOptions configure the kiosk browser driven by the actuator.
type BrowserOptions struct {
	// ExecPath overrides executable discovery. CHROMIUM_BIN is honoured when empty.
	ExecPath string `json:"exec-path" mapstructure:"exec-path"`

	// StandbyURL is shown whenever nothing is playing.
	StandbyURL string `json:"standby-url" mapstructure:"standby-url"`

	// Strategy pins a single actuation strategy; "auto" tries all in order.
	Strategy string `json:"strategy" mapstructure:"strategy"`

	UserDataDir string   `json:"user-data-dir" mapstructure:"user-data-dir"`
	ExtraArgs   []string `json:"extra-args" mapstructure:"extra-args"`
}

// NewBrowserOptions creates BrowserOptions with default values.
func NewBrowserOptions() *BrowserOptions {
	return &BrowserOptions{
		StandbyURL:  "http://localhost:3000",
		Strategy:    "auto",
		UserDataDir: "/var/lib/onesibox/chromium",
	}
}

// Validate checks the strategy name and the standby URL.
func (o *BrowserOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errors := []error{}

	if !browserStrategies[o.Strategy] {
		errors = append(errors, fmt.Errorf("browser.strategy %q is not one of auto, chromedp, process, xdotool", o.Strategy))
	}

	if u, err := url.Parse(o.StandbyURL); err != nil || u.Host == "" {
		errors = append(errors, fmt.Errorf("browser.standby-url %q is not a valid URL", o.StandbyURL))
	}

	return errors
}

// AddFlags adds flags for BrowserOptions to the specified FlagSet.
func (o *BrowserOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.ExecPath, "browser.exec-path", o.ExecPath, "Path of the chromium executable (auto-detected when empty).")
	fs.StringVar(&o.StandbyURL, "browser.standby-url", o.StandbyURL, "Page shown when the appliance is idle.")
	fs.StringVar(&o.Strategy, "browser.strategy", o.Strategy, "Actuation strategy: auto, chromedp, process or xdotool.")
	fs.StringVar(&o.UserDataDir, "browser.user-data-dir", o.UserDataDir, "Chromium profile directory.")
	fs.StringSliceVar(&o.ExtraArgs, "browser.extra-args", o.ExtraArgs, "Additional chromium command line switches.")
}
