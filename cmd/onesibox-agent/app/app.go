package app

import (
	"fmt"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	genericapiserver "k8s.io/apiserver/pkg/server"

	"github.com/onesibox/onesibox/cmd/onesibox-agent/app/options"
	"github.com/onesibox/onesibox/pkg/app"
	"github.com/onesibox/onesibox/pkg/log"
)

const (
	commandName = "onesibox-agent"
	commandDesc = `The OnesiBox agent runs on the appliance. It pulls commands from the
control plane (and optionally receives them over MQTT), drives the kiosk
browser, and reports heartbeats and command outcomes.`
)

// envAliases keeps the flat environment names used by existing installs.
var envAliases = map[string]string{
	"server.url":               "ONESIBOX_SERVER_URL",
	"server.appliance-id":      "ONESIBOX_APPLIANCE_ID",
	"server.token":             "ONESIBOX_TOKEN",
	"agent.polling-interval":   "ONESIBOX_POLLING_INTERVAL",
	"agent.heartbeat-interval": "ONESIBOX_HEARTBEAT_INTERVAL",
	"agent.default-volume":     "ONESIBOX_DEFAULT_VOLUME",
}

func NewApp() *app.App {
	opts := options.NewAgentOptions()
	application := app.NewApp(
		commandName,
		"Launch the OnesiBox appliance agent",
		app.WithDescription(commandDesc),
		app.WithOptions(opts),
		app.WithDefaultValidArgs(),
		app.WithEnvAliases(envAliases),
		app.WithConfigReload(onConfigChange),
		app.WithRunFunc(run(opts)),
	)
	return application
}

// onConfigChange applies the settings that can change without a restart.
func onConfigChange(e fsnotify.Event) {
	level := viper.GetString("log.level")
	if level == "" {
		return
	}
	if err := log.SetLevel(level); err != nil {
		log.Warn("Ignoring invalid log level from config", "file", e.Name, "level", level, "error", err)
		return
	}
	log.Info("Log level reloaded", "file", e.Name, "level", level)
}

func run(opts *options.AgentOptions) app.RunFunc {
	return func() error {
		ctx := genericapiserver.SetupSignalContext()

		log.Init(opts.Log)
		defer log.Sync()

		cfg, err := opts.Config()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		agent, err := cfg.NewAgent()
		if err != nil {
			return fmt.Errorf("failed to create agent: %w", err)
		}

		return agent.Run(ctx)
	}
}
