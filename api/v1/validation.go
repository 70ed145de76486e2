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

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrNoDatabaseSelection is returned when the configuration does not say
// which databases to work on.
var ErrNoDatabaseSelection = errors.New(
	"you must specify databases to execute against using either databases, excludeDatabases or allUserDatabases")

// ConfigurationError aborts a whole run before any server is contacted.
type ConfigurationError struct {
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil && e.Reason == "" {
		return fmt.Sprintf("invalid configuration: %v", e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("invalid configuration: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid configuration: %s", e.Reason)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks value ranges, enumerations and the database selection.
func (cfg *ShrinkConfiguration) Validate() error {
	if cfg == nil {
		return &ConfigurationError{Reason: "missing shrink configuration"}
	}

	if err := validate.Struct(cfg); err != nil {
		var fieldErrors validator.ValidationErrors
		if errors.As(err, &fieldErrors) {
			messages := make([]string, 0, len(fieldErrors))
			for _, fe := range fieldErrors {
				messages = append(messages,
					fmt.Sprintf("%s failed on '%s' (value %v)", fe.Field(), fe.Tag(), fe.Value()))
			}
			return &ConfigurationError{Reason: strings.Join(messages, "; "), Err: err}
		}
		return &ConfigurationError{Err: err}
	}

	if len(cfg.Databases) == 0 && len(cfg.ExcludeDatabases) == 0 && !cfg.AllUserDatabases {
		return &ConfigurationError{Err: ErrNoDatabaseSelection}
	}

	return nil
}
