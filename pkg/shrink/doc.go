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

// Package shrink implements the per-file storage reclamation logic.
// It reduces the allocated size of database files while keeping a
// requested amount of free space.
//
// Key features:
// - Calculates the desired file size from the used space and a free space percentage
// - Skips files that already have less free space than requested
// - Plans bounded shrink steps so that a single call never reclaims too much
// - Executes the plan one step at a time, refreshing the file after each step
// - Restricts destructive work to an optional maintenance window
package shrink
