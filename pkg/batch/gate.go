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

	apiv1 "github.com/dbshrink/dbshrink/api/v1"
)

// Decision is the answer of a Gate for one storage file.
type Decision int

const (
	// Proceed executes the shrink plan.
	Proceed Decision = iota
	// Decline leaves the file untouched.
	Decline
	// WhatIf reports the plan without executing it.
	WhatIf
)

// Target describes the destructive operation a Gate is asked about.
type Target struct {
	Instance      string
	Database      string
	File          string
	FileType      apiv1.FileType
	CurrentSizeMB float64
	DesiredSizeMB int64
	Plan          []int64
}

// Gate decides whether a planned shrink runs.
type Gate interface {
	Decide(ctx context.Context, target Target) (Decision, error)
}

// GateFunc adapts a function to the Gate interface.
type GateFunc func(ctx context.Context, target Target) (Decision, error)

// Decide implements Gate.
func (f GateFunc) Decide(ctx context.Context, target Target) (Decision, error) {
	return f(ctx, target)
}

// AlwaysProceed runs every plan.
var AlwaysProceed Gate = GateFunc(func(context.Context, Target) (Decision, error) {
	return Proceed, nil
})

// previewer is implemented by gates that never let a shrink run.
type previewer interface {
	Preview() bool
}

type dryRunGate struct{}

func (dryRunGate) Decide(context.Context, Target) (Decision, error) {
	return WhatIf, nil
}

func (dryRunGate) Preview() bool {
	return true
}

// DryRun previews every plan. Space usage is not updated either.
var DryRun Gate = dryRunGate{}
