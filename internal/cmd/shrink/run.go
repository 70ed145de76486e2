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

package shrink

import (
	"context"
	"fmt"
	"io"

	"github.com/cloudnative-pg/machinery/pkg/log"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	apiv1 "github.com/dbshrink/dbshrink/api/v1"
	"github.com/dbshrink/dbshrink/internal/config"
	"github.com/dbshrink/dbshrink/pkg/batch"
	"github.com/dbshrink/dbshrink/pkg/management/sqlserver"
	"github.com/dbshrink/dbshrink/pkg/shrink"
)

// Options controls how a run interacts with the user
type Options struct {
	// DryRun reports the plans without executing them
	DryRun bool

	// AssumeYes skips the confirmation prompt
	AssumeYes bool

	Output OutputFormat
	Out    io.Writer

	// Connector overrides the SQL Server connector
	Connector shrink.Connector

	// Confirm overrides the terminal prompt
	Confirm ConfirmFunc
}

// Run shrinks the files of the configured servers and prints the results
func Run(ctx context.Context, cfg *config.Config, opts Options) error {
	contextLogger := log.FromContext(ctx)

	out, err := newPrinter(opts.Output, opts.Out)
	if err != nil {
		return err
	}

	connector := opts.Connector
	if connector == nil {
		connector = newConnector(cfg)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var gate batch.Gate
	switch {
	case opts.DryRun:
		gate = batch.DryRun
	case opts.AssumeYes:
		gate = batch.AlwaysProceed
	default:
		confirm := opts.Confirm
		if confirm == nil {
			confirm = Confirm
		}
		gate = newConfirmGate(confirm, cancel)
	}

	registry := prometheus.NewRegistry()
	metrics := batch.NewMetrics()
	if err := metrics.Register(registry); err != nil {
		return fmt.Errorf("while registering metrics: %w", err)
	}

	var (
		results  []apiv1.ShrinkResult
		printErr error
	)
	sink := func(result apiv1.ShrinkResult) {
		results = append(results, result)
		printErr = multierr.Append(printErr, out.Result(result))
	}

	orchestrator := batch.New(connector, cfg.Shrink, batch.WithGate(gate), batch.WithMetrics(metrics))
	runErr := orchestrator.Run(ctx, cfg.Servers, sink)

	if err := out.Summary(results); err != nil {
		printErr = multierr.Append(printErr, err)
	}

	if cfg.MetricsTextfile != "" {
		if err := prometheus.WriteToTextfile(cfg.MetricsTextfile, registry); err != nil {
			contextLogger.Error(err, "failed to write metrics textfile", "path", cfg.MetricsTextfile)
			printErr = multierr.Append(printErr, err)
		}
	}

	return multierr.Append(runErr, printErr)
}

func newConnector(cfg *config.Config) shrink.Connector {
	return sqlserver.NewConnector(
		cfg.ConnectionOptions(),
		sqlserver.WithStatementTimeout(cfg.Shrink.StatementTimeout()),
		sqlserver.WithConnectRetries(cfg.Connection.ConnectRetries, cfg.Connection.ConnectRetryDelay),
	)
}
