package options

import (
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
)

var _ IOptions = (*ServerOptions)(nil)

// ServerOptions identify the appliance against the control plane.
type ServerOptions struct {
	URL         string `json:"url" mapstructure:"url"`
	ApplianceID string `json:"appliance-id" mapstructure:"appliance-id"`
	Token       string `json:"token" mapstructure:"token"`

	// RequestTimeout bounds every REST call to the control plane.
	RequestTimeout time.Duration `json:"request-timeout" mapstructure:"request-timeout"`
}

// NewServerOptions creates a ServerOptions with default values.
func NewServerOptions() *ServerOptions {
	return &ServerOptions{
		RequestTimeout: 10 * time.Second,
	}
}

// Validate checks that the control plane is reachable over https and that
// the appliance identity is complete.
func (o *ServerOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errors := []error{}

	u, err := url.Parse(o.URL)
	switch {
	case o.URL == "":
		errors = append(errors, fmt.Errorf("server.url is required"))
	case err != nil:
		errors = append(errors, fmt.Errorf("server.url: %w", err))
	case u.Scheme != "https" || u.Host == "":
		errors = append(errors, fmt.Errorf("server.url must be an https URL, got %q", o.URL))
	}

	if _, err := uuid.Parse(o.ApplianceID); err != nil {
		errors = append(errors, fmt.Errorf("server.appliance-id must be a UUID, got %q", o.ApplianceID))
	}

	if o.Token == "" {
		errors = append(errors, fmt.Errorf("server.token is required"))
	}

	if o.RequestTimeout <= 0 {
		errors = append(errors, fmt.Errorf("server.request-timeout must be positive"))
	}

	return errors
}

// AddFlags adds flags for ServerOptions to the specified FlagSet.
func (o *ServerOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.URL, "server.url", o.URL, "Base URL of the control plane (https).")
	fs.StringVar(&o.ApplianceID, "server.appliance-id", o.ApplianceID, "UUID of this appliance.")
	fs.StringVar(&o.Token, "server.token", o.Token, "Bearer token issued to this appliance.")
	fs.DurationVar(&o.RequestTimeout, "server.request-timeout", o.RequestTimeout, "Timeout for each request to the control plane.")
}
