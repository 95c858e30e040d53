package app

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/onesibox/onesibox/pkg/log"
)

const configFlagName = "config"

var cfgFile string

// addConfigFlag registers --config and arranges for the file, the
// environment and the flags to be merged into viper before the command runs.
func addConfigFlag(basename string, envPrefix string, fs *pflag.FlagSet) {
	fs.StringVarP(&cfgFile, configFlagName, "c", cfgFile, "Read configuration from the specified file (yaml or json).")

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	viper.SetConfigName(basename)
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath(filepath.Join("/etc", "onesibox"))
	if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(filepath.Join(home, ".onesibox"))
	}
}

// readConfig loads the config file. A missing default file is not an
// error; a file named explicitly with --config must exist.
func readConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok && cfgFile == "" {
			return nil
		}
		return fmt.Errorf("failed to read configuration file(%s): %w", cfgFile, err)
	}

	log.Info("Using config file", "file", viper.ConfigFileUsed())
	return nil
}

// bindEnvAliases maps config keys to extra environment variable names.
func bindEnvAliases(aliases map[string]string) error {
	for key, env := range aliases {
		if err := viper.BindEnv(key, env); err != nil {
			return fmt.Errorf("bind env %s to %s: %w", env, key, err)
		}
	}
	return nil
}

// watchConfig reloads the file on change and hands the event to fn.
func watchConfig(fn func(fsnotify.Event)) {
	if viper.ConfigFileUsed() == "" {
		return
	}
	viper.OnConfigChange(fn)
	viper.WatchConfig()
}

// unmarshal decodes the merged configuration into the options struct.
// Durations accept both Go syntax ("30s") and bare integers meaning seconds.
func unmarshal(out any) error {
	return viper.Unmarshal(out, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		secondsToDurationHook(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)))
}

func secondsToDurationHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if n, err := strconv.ParseFloat(v, 64); err == nil {
				return time.Duration(n * float64(time.Second)), nil
			}
		case int:
			return time.Duration(v) * time.Second, nil
		case int64:
			return time.Duration(v) * time.Second, nil
		case float64:
			return time.Duration(v * float64(time.Second)), nil
		}
		return data, nil
	}
}
