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
	"encoding/json"
	"fmt"
	"io"

	"github.com/cheynewallace/tabby"
	"github.com/logrusorgru/aurora/v4"
	"go.uber.org/multierr"

	apiv1 "github.com/dbshrink/dbshrink/api/v1"
	"github.com/dbshrink/dbshrink/internal/config"
	"github.com/dbshrink/dbshrink/pkg/batch"
	"github.com/dbshrink/dbshrink/pkg/shrink"
)

// FileStatus is the space usage of a storage file and what a shrink with
// the current configuration would do to it
type FileStatus struct {
	Instance      string  `json:"instance"`
	Database      string  `json:"database"`
	File          string  `json:"file"`
	FileType      string  `json:"fileType"`
	SizeMB        float64 `json:"sizeMB"`
	UsedMB        float64 `json:"usedMB"`
	FreeMB        float64 `json:"freeMB"`
	DesiredSizeMB int64   `json:"desiredSizeMB"`
	Reclaimable   bool    `json:"reclaimable"`
	Steps         int     `json:"steps"`
	Error         string  `json:"error,omitempty"`
}

// Status implements the "status" command. It never modifies a file.
func Status(
	ctx context.Context,
	cfg *config.Config,
	connector shrink.Connector,
	format OutputFormat,
	out io.Writer,
) error {
	if connector == nil {
		connector = newConnector(cfg)
	}

	var (
		files []FileStatus
		errs  error
	)
	for _, instance := range cfg.Servers {
		serverFiles, err := collectStatus(ctx, connector, cfg, instance)
		if err != nil {
			errs = multierr.Append(errs, err)
		}
		files = append(files, serverFiles...)
	}

	var printErr error
	switch format {
	case OutputFormatJSON:
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		printErr = enc.Encode(files)
	case OutputFormatText, "":
		printStatusTable(out, files)
	default:
		return fmt.Errorf("unknown output format %q, must be one of text|json", format)
	}

	return multierr.Append(errs, printErr)
}

func collectStatus(
	ctx context.Context,
	connector shrink.Connector,
	cfg *config.Config,
	instance string,
) ([]FileStatus, error) {
	server, err := connector.Connect(ctx, instance)
	if err != nil {
		return nil, &shrink.ConnectionError{Instance: instance, Err: err}
	}
	defer func() {
		_ = server.Close()
	}()

	databases, err := server.Databases(ctx)
	if err != nil {
		return nil, fmt.Errorf("while listing databases of %s: %w", instance, err)
	}

	var result []FileStatus
	for _, db := range batch.SelectDatabases(databases, &cfg.Shrink) {
		if db.IsSnapshot() || !db.IsAccessible() {
			continue
		}

		candidates, err := statusCandidates(ctx, cfg, db)
		if err != nil {
			result = append(result, FileStatus{
				Instance: server.Name(),
				Database: db.Name(),
				Error:    fmt.Sprintf("while listing files: %v", err),
			})
			continue
		}

		for _, file := range candidates {
			result = append(result, fileStatus(ctx, cfg, server.Name(), db.Name(), file))
		}
	}

	return result, nil
}

func statusCandidates(ctx context.Context, cfg *config.Config, db shrink.Database) ([]shrink.StorageFile, error) {
	var candidates []shrink.StorageFile
	if cfg.Shrink.IncludesFileType(apiv1.FileTypeData) {
		dataFiles, err := db.DataFiles(ctx)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, dataFiles...)
	}
	if cfg.Shrink.IncludesFileType(apiv1.FileTypeLog) {
		logFiles, err := db.LogFiles(ctx)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, logFiles...)
	}
	return candidates, nil
}

func fileStatus(ctx context.Context, cfg *config.Config, instance, database string, file shrink.StorageFile) FileStatus {
	status := FileStatus{
		Instance: instance,
		Database: database,
		File:     file.Name(),
		FileType: string(file.Type()),
	}

	usage, err := file.Refresh(ctx)
	if err != nil {
		status.Error = err.Error()
		return status
	}

	desiredFree, desiredTotal := shrink.CalculateDesiredSize(usage.UsedKB, cfg.Shrink.PercentFreeSpace)
	status.SizeMB = usage.SizeMB()
	status.UsedMB = usage.UsedMB()
	status.FreeMB = usage.FreeMB()
	status.DesiredSizeMB = shrink.CeilKBToMB(desiredTotal)

	if shrink.NeedsShrink(usage, desiredFree) {
		plan := shrink.PlanSteps(usage.SizeKB/1024, status.DesiredSizeMB, cfg.Shrink.StepSizeMB)
		status.Reclaimable = len(plan) > 0
		status.Steps = len(plan)
	}

	return status
}

func printStatusTable(out io.Writer, files []FileStatus) {
	if len(files) == 0 {
		_, _ = fmt.Fprintln(out, aurora.Yellow("No files found"))
		return
	}

	t := tabby.NewCustom(newTabWriter(out))
	t.AddHeader("INSTANCE", "DATABASE", "FILE", "TYPE", "SIZE (MB)", "USED (MB)", "FREE (MB)", "DESIRED (MB)", "STATUS")

	for _, f := range files {
		state := aurora.Green("OK").String()
		switch {
		case f.Error != "":
			state = aurora.Red(f.Error).String()
		case f.Reclaimable:
			state = aurora.Yellow(fmt.Sprintf("Reclaimable (%d step(s))", f.Steps)).String()
		}

		t.AddLine(f.Instance, f.Database, f.File, f.FileType,
			fmt.Sprintf("%.2f", f.SizeMB),
			fmt.Sprintf("%.2f", f.UsedMB),
			fmt.Sprintf("%.2f", f.FreeMB),
			f.DesiredSizeMB,
			state)
	}

	t.Print()
}
