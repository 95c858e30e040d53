package options

import (
	"strings"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	cliflag "k8s.io/component-base/cli/flag"

	"github.com/onesibox/onesibox/internal/agent"
	"github.com/onesibox/onesibox/pkg/app"
	"github.com/onesibox/onesibox/pkg/log"
	"github.com/onesibox/onesibox/pkg/options"
)

type AgentOptions struct {
	ServerOptions  *options.ServerOptions  `json:"server" mapstructure:"server"`
	RuntimeOptions *options.RuntimeOptions `json:"agent" mapstructure:"agent"`
	MqttOptions    *options.MqttOptions    `json:"mqtt" mapstructure:"mqtt"`
	HttpOptions    *options.HttpOptions    `json:"http" mapstructure:"http"`
	BrowserOptions *options.BrowserOptions `json:"browser" mapstructure:"browser"`
	Log            *log.Options            `json:"log" mapstructure:"log"`
}

var _ app.NamedFlagSetOptions = (*AgentOptions)(nil)

func NewAgentOptions() *AgentOptions {
	o := &AgentOptions{
		ServerOptions:  options.NewServerOptions(),
		RuntimeOptions: options.NewRuntimeOptions(),
		MqttOptions:    options.NewMqttOptions(),
		HttpOptions:    options.NewHttpOptions(),
		BrowserOptions: options.NewBrowserOptions(),
		Log:            log.NewOptions(),
	}

	return o
}

func (o *AgentOptions) Flags() cliflag.NamedFlagSets {
	fss := cliflag.NamedFlagSets{}
	o.ServerOptions.AddFlags(fss.FlagSet("server"))
	o.RuntimeOptions.AddFlags(fss.FlagSet("agent"))
	o.MqttOptions.AddFlags(fss.FlagSet("mqtt"))
	o.HttpOptions.AddFlags(fss.FlagSet("http"))
	o.BrowserOptions.AddFlags(fss.FlagSet("browser"))
	o.Log.AddFlags(fss.FlagSet("log"))
	return fss
}

// Complete trims the server URL and names the logger after the binary.
func (o *AgentOptions) Complete() error {
	o.ServerOptions.URL = strings.TrimRight(strings.TrimSpace(o.ServerOptions.URL), "/")
	o.ServerOptions.ApplianceID = strings.ToLower(strings.TrimSpace(o.ServerOptions.ApplianceID))
	if o.Log.Name == "" {
		o.Log.Name = "onesibox-agent"
	}
	return nil
}

func (o *AgentOptions) Validate() error {
	errs := []error{}
	errs = append(errs, o.ServerOptions.Validate()...)
	errs = append(errs, o.RuntimeOptions.Validate()...)
	errs = append(errs, o.MqttOptions.Validate()...)
	errs = append(errs, o.HttpOptions.Validate()...)
	errs = append(errs, o.BrowserOptions.Validate()...)
	errs = append(errs, o.Log.Validate()...)
	return utilerrors.NewAggregate(errs)
}

func (o *AgentOptions) Config() (*agent.Config, error) {
	return &agent.Config{
		ServerOptions:  o.ServerOptions,
		RuntimeOptions: o.RuntimeOptions,
		MqttOptions:    o.MqttOptions,
		HttpOptions:    o.HttpOptions,
		BrowserOptions: o.BrowserOptions,
		LogFile:        o.Log.FilePath(),
	}, nil
}
