package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Load builds a viper instance from <configPath>/<configName>.yaml and the
// process environment. A missing file is not an error. Keys map to
// environment variables with "." replaced by "_", so chat.history_limit can
// be overridden by CHAT_HISTORY_LIMIT. A .env file in the working directory
// is loaded into the environment first when present.
func Load(configPath, configName string) (*viper.Viper, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName(configName)
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return v, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return v, nil
}

// BindEnvs binds each key to an explicit environment variable name, for
// deployment variables that do not follow the key naming.
func BindEnvs(v *viper.Viper, bindings map[string]string) error {
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("bind %s to %s: %w", key, env, err)
		}
	}
	return nil
}

// Duration reads key as a duration string, falling back to def when the
// value is empty or unparsable.
func Duration(v *viper.Viper, key string, def time.Duration) time.Duration {
	s := v.GetString(key)
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
