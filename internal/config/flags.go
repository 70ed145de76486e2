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

package config

import (
	"fmt"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	apiv1 "github.com/dbshrink/dbshrink/api/v1"
)

type flagBinding struct {
	flag string
	key  string
}

// flagBindings maps every configuration flag to its configuration key.
var flagBindings = []flagBinding{
	{flag: "percent-free-space", key: "shrink.percentFreeSpace"},
	{flag: "shrink-method", key: "shrink.shrinkMethod"},
	{flag: "file-type", key: "shrink.fileType"},
	{flag: "step-size", key: "shrink.stepSizeMB"},
	{flag: "statement-timeout", key: "shrink.statementTimeoutMinutes"},
	{flag: "exclude-index-stats", key: "shrink.excludeIndexStats"},
	{flag: "exclude-update-usage", key: "shrink.excludeUpdateUsage"},
	{flag: "database", key: "shrink.databases"},
	{flag: "exclude-database", key: "shrink.excludeDatabases"},
	{flag: "all-user-databases", key: "shrink.allUserDatabases"},
	{flag: "logs-only", key: "shrink.logsOnly"},
	{flag: "username", key: "credentials.username"},
	{flag: "encrypt", key: "connection.encrypt"},
	{flag: "trust-server-certificate", key: "connection.trustServerCertificate"},
	{flag: "connect-timeout", key: "connection.connectTimeout"},
	{flag: "connect-retries", key: "connection.connectRetries"},
	{flag: "metrics-textfile", key: "metricsTextfile"},
}

// AddFlags registers the configuration flags. Flags left unset do not
// override the configuration file or the environment.
func AddFlags(flags *pflag.FlagSet) {
	flags.Int("percent-free-space", apiv1.DefaultPercentFreeSpace,
		"Free space to keep in each file, as a percentage of its used space (0-99)")
	flags.String("shrink-method", string(apiv1.ShrinkMethodDefault),
		"Shrink method. One of Default|EmptyFile|NoTruncate|TruncateOnly")
	flags.String("file-type", string(apiv1.FileTypeAll), "Files to shrink. One of All|Data|Log")
	flags.Int64("step-size", 0, "Largest reduction requested by a single shrink call, in MB")
	flags.Int("statement-timeout", 0, "Timeout of each statement in minutes, 0 means unbounded")
	flags.Bool("exclude-index-stats", false, "Do not measure index fragmentation")
	flags.Bool("exclude-update-usage", false, "Do not correct space usage before measuring files")
	flags.StringSlice("database", nil, "Databases to process")
	flags.StringSlice("exclude-database", nil, "Databases to skip")
	flags.Bool("all-user-databases", false, "Process every user database")
	flags.Bool("logs-only", false, "Shrink only transaction log files")
	_ = flags.MarkDeprecated("logs-only", "use --file-type=Log instead")

	flags.String("username", "", "SQL login, integrated authentication is used when empty")
	flags.String("encrypt", "", "Connection encryption. One of true|false|strict|disable")
	flags.Bool("trust-server-certificate", false, "Skip the validation of the server certificate")
	flags.Duration("connect-timeout", defaultConnectTimeout, "Timeout of the login to each server")
	flags.Uint("connect-retries", defaultConnectRetries, "Connection attempts before a server is skipped")

	flags.String("metrics-textfile", "", "Write the run metrics to this file in the node exporter textfile format")
}

func bindChangedFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for _, binding := range flagBindings {
		flag := flags.Lookup(binding.flag)
		if flag == nil || !flag.Changed {
			continue
		}
		if err := v.BindPFlag(binding.key, flag); err != nil {
			return fmt.Errorf("while binding flag %s: %w", binding.flag, err)
		}
	}
	return nil
}
