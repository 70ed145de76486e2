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
	"time"

	"github.com/cloudnative-pg/machinery/pkg/log"

	apiv1 "github.com/dbshrink/dbshrink/api/v1"
)

// Execution is the outcome of running a shrink plan on one file.
type Execution struct {
	// Success is true when no step failed. It does not mean the file reached
	// the desired size: the engine may keep residual allocation.
	Success bool
	// Final is the usage observed after the last completed step.
	Final FileUsage
	// StepsCompleted counts the steps that finished without error.
	StepsCompleted int
	Start          time.Time
	End            time.Time
	Elapsed        time.Duration
	// Err is a *ShrinkExecutionError or a *SizingError when Success is false.
	Err error
}

// Executor drives a storage file through a shrink plan.
type Executor struct {
	now func() time.Time
}

// NewExecutor creates an Executor using the wall clock.
func NewExecutor() *Executor {
	return &Executor{now: time.Now}
}

// NewExecutorWithClock creates an Executor with a custom clock.
// This is intended for testing.
func NewExecutorWithClock(now func() time.Time) *Executor {
	return &Executor{now: now}
}

// Execute runs every step of the plan in order. Each step shrinks the file
// and then refreshes its observed usage. The first failure stops the
// sequence; completed steps are kept. Cancellation of ctx is honoured
// between steps, never during one.
func (e *Executor) Execute(
	ctx context.Context,
	file StorageFile,
	initial FileUsage,
	plan []int64,
	method apiv1.ShrinkMethod,
) Execution {
	contextLogger := log.FromContext(ctx).WithValues("file", file.Name())

	execution := Execution{
		Final: initial,
		Start: e.now(),
	}

	for idx, target := range plan {
		step := idx + 1

		if err := ctx.Err(); err != nil {
			execution.Err = &ShrinkExecutionError{File: file.Name(), Step: step, TargetMB: target, Err: err}
			e.finish(&execution)
			return execution
		}

		contextLogger.Info("shrinking file",
			"step", step,
			"steps", len(plan),
			"targetMB", target,
			"method", method)

		if err := file.ShrinkTo(ctx, target, method); err != nil {
			contextLogger.Error(err, "shrink step failed",
				"step", step,
				"targetMB", target,
				"stepsCompleted", execution.StepsCompleted)
			execution.Err = &ShrinkExecutionError{File: file.Name(), Step: step, TargetMB: target, Err: err}
			e.finish(&execution)
			return execution
		}
		execution.StepsCompleted++

		usage, err := file.Refresh(ctx)
		if err != nil {
			contextLogger.Error(err, "failed to refresh file after shrink step", "step", step)
			execution.Err = &SizingError{File: file.Name(), Err: err}
			e.finish(&execution)
			return execution
		}
		execution.Final = usage

		contextLogger.Debug("shrink step completed",
			"step", step,
			"sizeKB", usage.SizeKB,
			"usedKB", usage.UsedKB)
	}

	execution.Success = true
	e.finish(&execution)
	return execution
}

func (e *Executor) finish(execution *Execution) {
	execution.End = e.now()
	execution.Elapsed = execution.End.Sub(execution.Start)
}
