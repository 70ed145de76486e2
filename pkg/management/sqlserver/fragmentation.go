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

package sqlserver

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"

	apiv1 "github.com/dbshrink/dbshrink/api/v1"
)

// indexPhysicalStatsConstraint is the first release shipping
// sys.dm_db_index_physical_stats (SQL Server 2005).
var indexPhysicalStatsConstraint = mustConstraint(">= 9.0")

func mustConstraint(c string) *semver.Constraints {
	constraint, err := semver.NewConstraint(c)
	if err != nil {
		panic(err)
	}
	return constraint
}

// ParseProductVersion parses a version like "15.0.2000.5". Only the first
// three components are meaningful for feature gating.
func ParseProductVersion(productVersion string) (*semver.Version, error) {
	parts := strings.Split(strings.TrimSpace(productVersion), ".")
	var components [3]uint64
	for i := 0; i < len(parts) && i < len(components); i++ {
		value, err := strconv.ParseUint(parts[i], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid product version %q: %w", productVersion, err)
		}
		components[i] = value
	}
	return semver.New(components[0], components[1], components[2], "", ""), nil
}

// SupportsIndexPhysicalStats reports whether the fragmentation query can run
// on a server with the given product version.
func SupportsIndexPhysicalStats(productVersion string) bool {
	version, err := ParseProductVersion(productVersion)
	if err != nil {
		return false
	}
	return indexPhysicalStatsConstraint.Check(version)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queryFragmentation samples average and maximum index fragmentation.
// A database without indexes yields an invalid sample.
func queryFragmentation(ctx context.Context, db queryRower, database string) (apiv1.FragmentationSample, error) {
	var average, maximum sql.NullFloat64

	err := db.QueryRowContext(ctx, fragmentationQuery, database).Scan(&average, &maximum)
	if errors.Is(err, sql.ErrNoRows) {
		return apiv1.FragmentationSample{}, nil
	}
	if err != nil {
		return apiv1.FragmentationSample{}, fmt.Errorf("while sampling fragmentation of %s: %w", database, err)
	}

	if !average.Valid || !maximum.Valid {
		return apiv1.FragmentationSample{}, nil
	}

	return apiv1.NewFragmentationSample(average.Float64, maximum.Float64), nil
}
