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
	"strings"

	"github.com/cloudnative-pg/machinery/pkg/stringset"

	apiv1 "github.com/dbshrink/dbshrink/api/v1"
	"github.com/dbshrink/dbshrink/pkg/shrink"
)

// SelectDatabases applies the include and exclude lists of the
// configuration. System databases are only selected when named explicitly.
// Names are compared case-insensitively.
func SelectDatabases(databases []shrink.Database, cfg *apiv1.ShrinkConfiguration) []shrink.Database {
	included := lowerSet(cfg.Databases)
	excluded := lowerSet(cfg.ExcludeDatabases)

	selected := make([]shrink.Database, 0, len(databases))
	for _, db := range databases {
		name := strings.ToLower(db.Name())

		if excluded.Has(name) {
			continue
		}

		if included.Len() > 0 {
			if included.Has(name) {
				selected = append(selected, db)
			}
			continue
		}

		if !db.IsSystem() {
			selected = append(selected, db)
		}
	}

	return selected
}

func lowerSet(names []string) *stringset.Data {
	lowered := make([]string, 0, len(names))
	for _, name := range names {
		lowered = append(lowered, strings.ToLower(strings.TrimSpace(name)))
	}
	return stringset.From(lowered)
}
