package options

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validOptions() *AgentOptions {
	o := NewAgentOptions()
	o.ServerOptions.URL = " https://control.example.com/ "
	o.ServerOptions.ApplianceID = "6F1C2A4E-3B1D-4C55-9A57-0D2F1C9B7E10"
	o.ServerOptions.Token = "secret"
	return o
}

func TestCompleteAndValidate(t *testing.T) {
	o := validOptions()
	require.NoError(t, o.Complete())
	require.NoError(t, o.Validate())

	assert.Equal(t, "https://control.example.com", o.ServerOptions.URL)
	assert.Equal(t, "6f1c2a4e-3b1d-4c55-9a57-0d2f1c9b7e10", o.ServerOptions.ApplianceID)
	assert.Equal(t, "onesibox-agent", o.Log.Name)
}

func TestValidateAggregatesErrors(t *testing.T) {
	o := NewAgentOptions()
	o.RuntimeOptions.PollingInterval = 100 * time.Millisecond
	o.BrowserOptions.Strategy = "firefox"
	require.NoError(t, o.Complete())

	err := o.Validate()
	require.Error(t, err)
	for _, want := range []string{"server.url", "server.token", "agent.polling-interval", "browser.strategy"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestConfigCarriesLogFile(t *testing.T) {
	o := validOptions()
	o.Log.OutputPaths = []string{"stdout", "/var/log/onesibox/agent.log"}

	cfg, err := o.Config()
	require.NoError(t, err)
	assert.Equal(t, "/var/log/onesibox/agent.log", cfg.LogFile)
	assert.Same(t, o.BrowserOptions, cfg.BrowserOptions)
}

func TestFlagsCoverEverySection(t *testing.T) {
	fss := NewAgentOptions().Flags()
	for _, name := range []string{"server", "agent", "mqtt", "http", "browser", "log"} {
		assert.Contains(t, fss.Order, name)
	}
	assert.NotNil(t, fss.FlagSet("server").Lookup("server.url"))
	assert.NotNil(t, fss.FlagSet("browser").Lookup("browser.strategy"))
}
