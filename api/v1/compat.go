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

import "fmt"

// Deprecation describes a legacy configuration field and how it maps onto
// the current configuration.
type Deprecation struct {
	// Field is the legacy field name as it appears in configuration files.
	Field string
	// Since is the release that deprecated the field.
	Since string
	// Replacement names the field to use instead.
	Replacement string

	isSet func(cfg *ShrinkConfiguration) bool
	apply func(cfg *ShrinkConfiguration) error
}

// deprecations is applied in order by Normalize.
var deprecations = []Deprecation{
	{
		Field:       "logsOnly",
		Since:       "1.0",
		Replacement: "fileType: Log",
		isSet:       func(cfg *ShrinkConfiguration) bool { return cfg.LogsOnly },
		apply: func(cfg *ShrinkConfiguration) error {
			switch cfg.FileType {
			case "", FileTypeAll, FileTypeLog:
				cfg.FileType = FileTypeLog
			default:
				return fmt.Errorf("logsOnly conflicts with fileType %q", cfg.FileType)
			}
			cfg.LogsOnly = false
			return nil
		},
	},
}

// Normalize rewrites deprecated fields into their replacements and returns
// the deprecations that were in use, so that callers can warn about them.
// It must run once, before Default and Validate.
func (cfg *ShrinkConfiguration) Normalize() ([]Deprecation, error) {
	var used []Deprecation
	for _, d := range deprecations {
		if !d.isSet(cfg) {
			continue
		}
		if err := d.apply(cfg); err != nil {
			return used, &ConfigurationError{Reason: err.Error()}
		}
		used = append(used, d)
	}
	return used, nil
}

// String renders the deprecation as a user facing warning.
func (d Deprecation) String() string {
	return fmt.Sprintf("%s is deprecated since %s, use %s instead", d.Field, d.Since, d.Replacement)
}
