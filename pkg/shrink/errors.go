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

import "fmt"

// ConnectionError is returned when a server cannot be reached.
// It only affects the work planned on that server.
type ConnectionError struct {
	Instance string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("failed to connect to %s: %v", e.Instance, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// SizingError is returned when the size of a file cannot be read.
type SizingError struct {
	Database string
	File     string
	Err      error
}

func (e *SizingError) Error() string {
	if e.Database == "" {
		return fmt.Sprintf("failed to read the size of %s: %v", e.File, e.Err)
	}
	return fmt.Sprintf("failed to read the size of %s in database %s: %v", e.File, e.Database, e.Err)
}

func (e *SizingError) Unwrap() error {
	return e.Err
}

// ShrinkExecutionError is returned when the engine fails a shrink step.
// Steps completed before Step are not rolled back.
type ShrinkExecutionError struct {
	File     string
	Step     int
	TargetMB int64
	Err      error
}

func (e *ShrinkExecutionError) Error() string {
	return fmt.Sprintf("shrink of %s to %d MB failed at step %d: %v", e.File, e.TargetMB, e.Step, e.Err)
}

func (e *ShrinkExecutionError) Unwrap() error {
	return e.Err
}
