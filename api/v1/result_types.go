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

package v1

import "time"

// Outcome is what happened to a storage file during a run.
type Outcome string

const (
	// OutcomeShrunk means every planned shrink step completed.
	OutcomeShrunk Outcome = "Shrunk"

	// OutcomeFailed means sizing or a shrink step failed. Steps completed
	// before the failure are kept.
	OutcomeFailed Outcome = "Failed"

	// OutcomeSkipped means the file, or the whole database, was not touched.
	OutcomeSkipped Outcome = "Skipped"

	// OutcomeWhatIf means the plan was computed but not executed.
	OutcomeWhatIf Outcome = "WhatIf"
)

// FragmentationNote is attached to every file that was actually shrunk.
const FragmentationNote = "Database shrinks can cause massive index fragmentation and negatively impact " +
	"performance. You should now run DBCC INDEXDEFRAG or ALTER INDEX ... REORGANIZE"

// FragmentationSample is the index fragmentation of a database at a point
// in time. Both percentages are meaningful only when Valid is true.
type FragmentationSample struct {
	Valid          bool    `json:"valid"`
	AveragePercent float64 `json:"averagePercent"`
	MaximumPercent float64 `json:"maximumPercent"`
}

// NewFragmentationSample builds a valid sample.
func NewFragmentationSample(average, maximum float64) FragmentationSample {
	return FragmentationSample{Valid: true, AveragePercent: average, MaximumPercent: maximum}
}

// ShrinkResult is the record produced for each processed storage file.
// Database-level skips carry an empty File.
type ShrinkResult struct {
	ComputerName string `json:"computerName"`
	InstanceName string `json:"instanceName"`
	SQLInstance  string `json:"sqlInstance"`
	Database     string `json:"database"`
	File         string `json:"file,omitempty"`
	FileType     string `json:"fileType,omitempty"`

	Start   time.Time     `json:"start"`
	End     time.Time     `json:"end"`
	Elapsed time.Duration `json:"elapsed"`

	Outcome Outcome `json:"outcome"`
	Success bool    `json:"success"`

	InitialSizeMB      float64 `json:"initialSizeMB"`
	InitialUsedMB      float64 `json:"initialUsedMB"`
	InitialAvailableMB float64 `json:"initialAvailableMB"`
	TargetAvailableMB  float64 `json:"targetAvailableMB"`
	DesiredSizeMB      int64   `json:"desiredSizeMB"`
	Plan               []int64 `json:"plan,omitempty"`
	StepsCompleted     int     `json:"stepsCompleted"`
	FinalSizeMB        float64 `json:"finalSizeMB"`
	FinalAvailableMB   float64 `json:"finalAvailableMB"`

	FragmentationBefore *FragmentationSample `json:"fragmentationBefore,omitempty"`
	FragmentationAfter  *FragmentationSample `json:"fragmentationAfter,omitempty"`

	Notes string `json:"notes,omitempty"`
	Error string `json:"error,omitempty"`
}

// ReclaimedMB is how much allocation the run released for this file.
func (r ShrinkResult) ReclaimedMB() float64 {
	if r.Outcome != OutcomeShrunk && r.Outcome != OutcomeFailed {
		return 0
	}
	if r.FinalSizeMB >= r.InitialSizeMB {
		return 0
	}
	return r.InitialSizeMB - r.FinalSizeMB
}
