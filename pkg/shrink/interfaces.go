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

	apiv1 "github.com/dbshrink/dbshrink/api/v1"
)

// Connector opens a handle to a database server.
type Connector interface {
	Connect(ctx context.Context, instance string) (Server, error)
}

// Server is a connected database server.
type Server interface {
	// ComputerName is the host the server runs on.
	ComputerName() string
	// InstanceName is the named instance, or the default instance name.
	InstanceName() string
	// Name is the instance as the caller addressed it.
	Name() string
	// SupportsFragmentation reports whether the server can answer
	// fragmentation queries.
	SupportsFragmentation() bool
	// Databases lists the databases hosted by the server.
	Databases(ctx context.Context) ([]Database, error)
	// Fragmentation samples the index fragmentation of a database with a
	// single aggregate query.
	Fragmentation(ctx context.Context, database string) (apiv1.FragmentationSample, error)
	// Close releases the connection.
	Close() error
}

// Database is a database hosted by a Server.
type Database interface {
	Name() string
	IsSnapshot() bool
	IsAccessible() bool
	IsSystem() bool
	DataFiles(ctx context.Context) ([]StorageFile, error)
	LogFiles(ctx context.Context) ([]StorageFile, error)
	// UpdateUsage corrects the space usage metadata of the database.
	UpdateUsage(ctx context.Context) error
}

// StorageFile is a data or log file of a Database. Its observed usage is
// only current after a call to Refresh.
type StorageFile interface {
	Name() string
	Type() apiv1.FileType
	Refresh(ctx context.Context) (FileUsage, error)
	// ShrinkTo asks the engine to shrink the file to targetMB.
	ShrinkTo(ctx context.Context, targetMB int64, method apiv1.ShrinkMethod) error
}
