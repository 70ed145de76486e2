/*
Copyright © contributors to dbshrink.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.

SPDX-License-Identifier: Apache-2.0
*/

// Package config loads the settings of a shrink run from a configuration
// file, DBSHRINK_* environment variables and command line flags, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cloudnative-pg/machinery/pkg/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	apiv1 "github.com/dbshrink/dbshrink/api/v1"
	"github.com/dbshrink/dbshrink/pkg/management/sqlserver"
)

// EnvPrefix is the prefix of the environment variables read by Load.
// Example: DBSHRINK_CREDENTIALS_PASSWORD.
const EnvPrefix = "DBSHRINK"

const (
	defaultConnectTimeout    = 30 * time.Second
	defaultConnectRetries    = 3
	defaultConnectRetryDelay = 2 * time.Second
)

// Config is everything needed to run a shrink batch.
type Config struct {
	// Servers are the SQL Server instances to process, in order.
	Servers []string `mapstructure:"servers"`

	Credentials sqlserver.Credentials `mapstructure:"credentials"`

	Connection Connection `mapstructure:"connection"`

	Shrink apiv1.ShrinkConfiguration `mapstructure:"shrink"`

	// MetricsTextfile is where the run metrics are written, in the node
	// exporter textfile format. Empty disables the export.
	MetricsTextfile string `mapstructure:"metricsTextfile"`
}

// Connection tunes how servers are reached.
type Connection struct {
	Encrypt                string        `mapstructure:"encrypt"`
	TrustServerCertificate bool          `mapstructure:"trustServerCertificate"`
	ConnectTimeout         time.Duration `mapstructure:"connectTimeout"`
	ConnectRetries         uint          `mapstructure:"connectRetries"`
	ConnectRetryDelay      time.Duration `mapstructure:"connectRetryDelay"`
}

// ConnectionOptions converts the settings into the options of the SQL
// Server connector.
func (c *Config) ConnectionOptions() sqlserver.ConnectionOptions {
	return sqlserver.ConnectionOptions{
		Credentials:            c.Credentials,
		Encrypt:                c.Connection.Encrypt,
		TrustServerCertificate: c.Connection.TrustServerCertificate,
		ConnectTimeout:         c.Connection.ConnectTimeout,
	}
}

// Load reads the configuration file at configPath, when not empty, then the
// environment and finally the flags that were explicitly set. The shrink
// configuration is normalized, defaulted and validated.
func Load(configPath string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setupViper(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("configuration file %s not found", configPath)
			}
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if flags != nil {
		if err := bindChangedFlags(v, flags); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	deprecations, err := cfg.Shrink.Normalize()
	if err != nil {
		return nil, err
	}
	for _, d := range deprecations {
		log.Warning("deprecated configuration", "field", d.Field, "message", d.String())
	}

	cfg.Shrink.Default()
	if err := cfg.Shrink.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setupViper(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("connection.connectTimeout", defaultConnectTimeout)
	v.SetDefault("connection.connectRetries", defaultConnectRetries)
	v.SetDefault("connection.connectRetryDelay", defaultConnectRetryDelay)

	// AutomaticEnv only covers keys viper already knows about
	for _, key := range envKeys() {
		_ = v.BindEnv(key)
	}
}

func envKeys() []string {
	keys := []string{
		"servers",
		"credentials.username",
		"credentials.password",
		"metricsTextfile",
		"shrink.maintenanceWindow.schedule",
		"shrink.maintenanceWindow.duration",
		"shrink.maintenanceWindow.timezone",
	}
	for _, binding := range flagBindings {
		keys = append(keys, binding.key)
	}
	return keys
}
