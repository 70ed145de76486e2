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

// Package shrink provides the commands that inspect and shrink the storage
// files of SQL Server databases.
package shrink

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/dbshrink/dbshrink/internal/config"
)

var errNoInstances = errors.New("no SQL Server instance given, pass them as arguments or in the configuration file")

// NewCmd creates the new "shrink" command
func NewCmd() *cobra.Command {
	shrinkCmd := &cobra.Command{
		Use:   "shrink [INSTANCE...]",
		Short: "Shrink the data and log files of SQL Server databases",
		Long: `Shrink releases the free space of database files back to the operating system.

Each file keeps the requested free space, relative to its used space. Large
reductions can be split into steps with --step-size. Shrinking fragments
indexes: plan an index maintenance afterwards.`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, args)
			if err != nil {
				return err
			}

			dryRun, err := cmd.Flags().GetBool("dry-run")
			if err != nil {
				return err
			}
			assumeYes, err := cmd.Flags().GetBool("yes")
			if err != nil {
				return err
			}
			output, err := cmd.Flags().GetString("output")
			if err != nil {
				return err
			}

			return Run(cmd.Context(), cfg, Options{
				DryRun:    dryRun,
				AssumeYes: assumeYes,
				Output:    OutputFormat(output),
				Out:       cmd.OutOrStdout(),
			})
		},
	}

	config.AddFlags(shrinkCmd.Flags())
	shrinkCmd.Flags().Bool("dry-run", false, "Report the shrink plans without executing them or updating space usage")
	shrinkCmd.Flags().BoolP("yes", "y", false, "Do not ask for confirmation before each shrink")
	shrinkCmd.Flags().StringP("output", "o", "text", "Output format. One of text|json")

	return shrinkCmd
}

// NewStatusCmd creates the new "status" command
func NewStatusCmd() *cobra.Command {
	statusCmd := &cobra.Command{
		Use:   "status [INSTANCE...]",
		Short: "Get the space usage of SQL Server database files",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, args)
			if err != nil {
				return err
			}

			output, err := cmd.Flags().GetString("output")
			if err != nil {
				return err
			}

			return Status(cmd.Context(), cfg, nil, OutputFormat(output), cmd.OutOrStdout())
		},
	}

	config.AddFlags(statusCmd.Flags())
	statusCmd.Flags().StringP("output", "o", "text", "Output format. One of text|json")

	return statusCmd
}

func loadConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load(configPath, cmd.Flags())
	if err != nil {
		return nil, err
	}

	if len(args) > 0 {
		cfg.Servers = args
	}
	if len(cfg.Servers) == 0 {
		return nil, errNoInstances
	}

	return cfg, nil
}
