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

package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cloudnative-pg/machinery/pkg/log"
	"go.uber.org/multierr"

	apiv1 "github.com/dbshrink/dbshrink/api/v1"
	"github.com/dbshrink/dbshrink/pkg/shrink"
)

// Sink receives each result as soon as the corresponding file is done.
type Sink func(result apiv1.ShrinkResult)

// Orchestrator shrinks the storage files of a set of servers.
type Orchestrator struct {
	connector shrink.Connector
	config    apiv1.ShrinkConfiguration
	executor  *shrink.Executor
	gate      Gate
	metrics   *Metrics
	now       func() time.Time
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithGate sets the gate consulted before each destructive shrink.
func WithGate(gate Gate) Option {
	return func(o *Orchestrator) {
		o.gate = gate
	}
}

// WithMetrics records every result in the given metrics.
func WithMetrics(metrics *Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = metrics
	}
}

// WithClock replaces the wall clock. This is intended for testing.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
		o.executor = shrink.NewExecutorWithClock(now)
	}
}

// New creates an Orchestrator. The configuration is copied, defaulted and
// validated when Run is called.
func New(connector shrink.Connector, cfg apiv1.ShrinkConfiguration, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		connector: connector,
		config:    cfg,
		executor:  shrink.NewExecutor(),
		gate:      AlwaysProceed,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run processes the given instances in order. Configuration errors abort
// the run before any server is contacted. Servers that cannot be processed
// are combined in the returned error; file level failures are only reported
// through the sink.
func (o *Orchestrator) Run(ctx context.Context, instances []string, sink Sink) error {
	o.config.Default()
	if err := o.config.Validate(); err != nil {
		return err
	}

	contextLogger := log.FromContext(ctx).WithName("shrink")
	ctx = log.IntoContext(ctx, contextLogger)

	var errs error
	for _, instance := range instances {
		if err := ctx.Err(); err != nil {
			errs = multierr.Append(errs, err)
			break
		}

		err := o.processServer(ctx, instance, sink)
		if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			contextLogger.Info("run cancelled", "instance", instance)
			errs = multierr.Append(errs, err)
			break
		}
		if err != nil {
			contextLogger.Error(err, "skipping server", "instance", instance)
			o.metrics.ObserveServerFailure(instance)
			errs = multierr.Append(errs, err)
		}
	}

	if o.metrics != nil {
		o.metrics.LastRunTimestamp.Set(float64(o.now().Unix()))
	}

	return errs
}

func (o *Orchestrator) processServer(ctx context.Context, instance string, sink Sink) error {
	contextLogger := log.FromContext(ctx).WithValues("instance", instance)
	ctx = log.IntoContext(ctx, contextLogger)

	server, err := o.connector.Connect(ctx, instance)
	if err != nil {
		return &shrink.ConnectionError{Instance: instance, Err: err}
	}
	defer func() {
		if err := server.Close(); err != nil {
			contextLogger.Warning("failed to close server connection", "error", err)
		}
	}()

	databases, err := server.Databases(ctx)
	if err != nil {
		return fmt.Errorf("while listing databases of %s: %w", instance, err)
	}

	selected := SelectDatabases(databases, &o.config)
	contextLogger.Info("processing server",
		"databases", len(databases),
		"selected", len(selected))

	for _, db := range selected {
		if err := ctx.Err(); err != nil {
			return err
		}
		o.processDatabase(ctx, server, db, sink)
	}

	return nil
}

func (o *Orchestrator) processDatabase(ctx context.Context, server shrink.Server, db shrink.Database, sink Sink) {
	contextLogger := log.FromContext(ctx).WithValues("database", db.Name())
	ctx = log.IntoContext(ctx, contextLogger)

	if db.IsSnapshot() {
		contextLogger.Warning("database is a snapshot and cannot be shrunk")
		o.emit(sink, o.databaseResult(server, db, apiv1.OutcomeSkipped, "database is a snapshot", nil))
		return
	}

	if !db.IsAccessible() {
		contextLogger.Warning("database is not accessible")
		o.emit(sink, o.databaseResult(server, db, apiv1.OutcomeSkipped, "database is not accessible", nil))
		return
	}

	if !o.config.ExcludeUpdateUsage && !o.previewOnly() {
		if err := db.UpdateUsage(ctx); err != nil {
			contextLogger.Warning("failed to update space usage, sizes may be stale", "error", err)
		}
	}

	files, err := o.candidateFiles(ctx, db)
	if err != nil {
		contextLogger.Error(err, "failed to list database files")
		o.emit(sink, o.databaseResult(server, db, apiv1.OutcomeFailed, "", err))
		return
	}

	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return
		}
		o.emit(sink, o.processFile(ctx, server, db, file))
	}
}

// candidateFiles lists the files matching the file type selector.
func (o *Orchestrator) candidateFiles(ctx context.Context, db shrink.Database) ([]shrink.StorageFile, error) {
	var files []shrink.StorageFile

	if o.config.IncludesFileType(apiv1.FileTypeData) {
		dataFiles, err := db.DataFiles(ctx)
		if err != nil {
			return nil, err
		}
		files = append(files, dataFiles...)
	}

	if o.config.IncludesFileType(apiv1.FileTypeLog) {
		logFiles, err := db.LogFiles(ctx)
		if err != nil {
			return nil, err
		}
		files = append(files, logFiles...)
	}

	return files, nil
}

// processFile runs the per-file state machine:
// eligible? -> skip | measure before -> shrink -> measure after -> report.
func (o *Orchestrator) processFile(
	ctx context.Context,
	server shrink.Server,
	db shrink.Database,
	file shrink.StorageFile,
) apiv1.ShrinkResult {
	contextLogger := log.FromContext(ctx).WithValues("file", file.Name(), "fileType", file.Type())
	ctx = log.IntoContext(ctx, contextLogger)

	result := o.baseResult(server, db)
	result.File = file.Name()
	result.FileType = string(file.Type())
	result.Start = o.now()

	finish := func(outcome apiv1.Outcome, notes string) apiv1.ShrinkResult {
		result.Outcome = outcome
		result.Notes = notes
		if result.End.IsZero() {
			result.End = o.now()
			result.Elapsed = result.End.Sub(result.Start)
		}
		return result
	}

	usage, err := file.Refresh(ctx)
	if err != nil {
		sizingErr := &shrink.SizingError{Database: db.Name(), File: file.Name(), Err: err}
		contextLogger.Error(sizingErr, "failed to read file size")
		result.Error = sizingErr.Error()
		return finish(apiv1.OutcomeFailed, "")
	}

	desiredFreeKB, desiredTotalKB := shrink.CalculateDesiredSize(usage.UsedKB, o.config.PercentFreeSpace)
	result.InitialSizeMB = usage.SizeMB()
	result.InitialUsedMB = usage.UsedMB()
	result.InitialAvailableMB = usage.FreeMB()
	result.TargetAvailableMB = shrink.KBToMB(desiredFreeKB)
	result.FinalSizeMB = usage.SizeMB()
	result.FinalAvailableMB = usage.FreeMB()

	if !shrink.NeedsShrink(usage, desiredFreeKB) {
		contextLogger.Info("file already has less free space than requested, skipping",
			"availableMB", result.InitialAvailableMB,
			"targetAvailableMB", result.TargetAvailableMB)
		return finish(apiv1.OutcomeSkipped, "file has less free space than the desired amount")
	}

	result.DesiredSizeMB = shrink.CeilKBToMB(desiredTotalKB)
	result.Plan = shrink.PlanSteps(usage.SizeKB/1024, result.DesiredSizeMB, o.config.StepSizeMB)
	if len(result.Plan) == 0 {
		return finish(apiv1.OutcomeSkipped, "file is already within 1 MB of the desired size")
	}

	if !shrink.IsMaintenanceWindowOpen(o.config.MaintenanceWindow, o.now()) {
		notes := "outside of the maintenance window"
		if next := shrink.NextMaintenanceWindow(o.config.MaintenanceWindow, o.now()); next != nil {
			notes = fmt.Sprintf("%s, next window opens at %s", notes, next.Format(time.RFC3339))
		}
		contextLogger.Info("shrink postponed", "reason", notes)
		return finish(apiv1.OutcomeSkipped, notes)
	}

	decision, err := o.gate.Decide(ctx, Target{
		Instance:      server.Name(),
		Database:      db.Name(),
		File:          file.Name(),
		FileType:      file.Type(),
		CurrentSizeMB: usage.SizeMB(),
		DesiredSizeMB: result.DesiredSizeMB,
		Plan:          result.Plan,
	})
	if err != nil {
		result.Error = err.Error()
		return finish(apiv1.OutcomeFailed, "could not confirm the shrink")
	}
	switch decision {
	case WhatIf:
		return finish(apiv1.OutcomeWhatIf, fmt.Sprintf("would shrink %s from %.2f MB to %d MB in %d step(s)",
			file.Name(), usage.SizeMB(), result.DesiredSizeMB, len(result.Plan)))
	case Decline:
		return finish(apiv1.OutcomeSkipped, "shrink declined")
	}

	collectFragmentation := o.collectsFragmentation(server)
	if collectFragmentation {
		result.FragmentationBefore = o.sampleFragmentation(ctx, server, db)
	}

	contextLogger.Info("shrinking file",
		"sizeMB", result.InitialSizeMB,
		"usedMB", result.InitialUsedMB,
		"desiredSizeMB", result.DesiredSizeMB,
		"steps", len(result.Plan))

	execution := o.executor.Execute(ctx, file, usage, result.Plan, o.config.ShrinkMethod)
	result.Start = execution.Start
	result.End = execution.End
	result.Elapsed = execution.Elapsed
	result.StepsCompleted = execution.StepsCompleted
	result.FinalSizeMB = execution.Final.SizeMB()
	result.FinalAvailableMB = execution.Final.FreeMB()

	if !execution.Success {
		result.Error = execution.Err.Error()
		return finish(apiv1.OutcomeFailed, "")
	}
	result.Success = true

	if collectFragmentation && o.config.FileType != apiv1.FileTypeLog {
		result.FragmentationAfter = o.sampleFragmentation(ctx, server, db)
	}

	contextLogger.Info("file shrunk",
		"finalSizeMB", result.FinalSizeMB,
		"elapsed", result.Elapsed)

	return finish(apiv1.OutcomeShrunk, apiv1.FragmentationNote)
}

// previewOnly tells whether the gate never lets a shrink run, in which case
// the databases are not written to at all.
func (o *Orchestrator) previewOnly() bool {
	p, ok := o.gate.(previewer)
	return ok && p.Preview()
}

// collectsFragmentation tells whether fragmentation is measured before a
// shrink. The sample after it is also skipped when only log files are
// selected, as they carry no index fragmentation.
func (o *Orchestrator) collectsFragmentation(server shrink.Server) bool {
	return !o.config.ExcludeIndexStats && server.SupportsFragmentation()
}

func (o *Orchestrator) sampleFragmentation(
	ctx context.Context,
	server shrink.Server,
	db shrink.Database,
) *apiv1.FragmentationSample {
	sample, err := server.Fragmentation(ctx, db.Name())
	if err != nil {
		log.FromContext(ctx).Warning("failed to sample index fragmentation", "error", err)
		return nil
	}
	return &sample
}

func (o *Orchestrator) baseResult(server shrink.Server, db shrink.Database) apiv1.ShrinkResult {
	return apiv1.ShrinkResult{
		ComputerName: server.ComputerName(),
		InstanceName: server.InstanceName(),
		SQLInstance:  server.Name(),
		Database:     db.Name(),
	}
}

func (o *Orchestrator) databaseResult(
	server shrink.Server,
	db shrink.Database,
	outcome apiv1.Outcome,
	notes string,
	err error,
) apiv1.ShrinkResult {
	result := o.baseResult(server, db)
	result.Start = o.now()
	result.End = result.Start
	result.Outcome = outcome
	result.Notes = notes
	if err != nil {
		result.Error = err.Error()
	}
	return result
}

func (o *Orchestrator) emit(sink Sink, result apiv1.ShrinkResult) {
	o.metrics.ObserveResult(result)
	if sink != nil {
		sink(result)
	}
}
