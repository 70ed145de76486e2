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

	"github.com/cloudnative-pg/machinery/pkg/log"

	apiv1 "github.com/dbshrink/dbshrink/api/v1"
	"github.com/dbshrink/dbshrink/pkg/shrink"
)

// Database is a database of a SQL Server instance.
type Database struct {
	server     *Server
	name       string
	system     bool
	snapshot   bool
	accessible bool
}

// Name implements shrink.Database.
func (d *Database) Name() string {
	return d.name
}

// IsSnapshot implements shrink.Database.
func (d *Database) IsSnapshot() bool {
	return d.snapshot
}

// IsAccessible implements shrink.Database.
func (d *Database) IsAccessible() bool {
	return d.accessible
}

// IsSystem implements shrink.Database.
func (d *Database) IsSystem() bool {
	return d.system
}

// DataFiles implements shrink.Database.
func (d *Database) DataFiles(ctx context.Context) ([]shrink.StorageFile, error) {
	return d.files(ctx, apiv1.FileTypeData)
}

// LogFiles implements shrink.Database.
func (d *Database) LogFiles(ctx context.Context) ([]shrink.StorageFile, error) {
	return d.files(ctx, apiv1.FileTypeLog)
}

// UpdateUsage implements shrink.Database.
func (d *Database) UpdateUsage(ctx context.Context) error {
	log.FromContext(ctx).Debug("updating space usage", "database", d.name)

	return d.server.inDatabase(ctx, d.name, func(ctx context.Context, conn *sql.Conn) error {
		if _, err := conn.ExecContext(ctx, updateUsageStatement); err != nil {
			return fmt.Errorf("while updating space usage of %s: %w", d.name, err)
		}
		return nil
	})
}

func (d *Database) files(ctx context.Context, fileType apiv1.FileType) ([]shrink.StorageFile, error) {
	var files []shrink.StorageFile

	err := d.server.inDatabase(ctx, d.name, func(ctx context.Context, conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, listFilesQuery, fileTypeDesc(fileType))
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			file := &File{database: d, fileType: fileType}
			if err := rows.Scan(&file.name, &file.usage.SizeKB, &file.usage.UsedKB); err != nil {
				return err
			}
			files = append(files, file)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("while listing %s files of %s: %w", fileType, d.name, err)
	}

	return files, nil
}

// File is a data or log file of a Database.
type File struct {
	database *Database
	name     string
	fileType apiv1.FileType
	usage    shrink.FileUsage
}

// Name implements shrink.StorageFile.
func (f *File) Name() string {
	return f.name
}

// Type implements shrink.StorageFile.
func (f *File) Type() apiv1.FileType {
	return f.fileType
}

// Usage returns the usage observed by the last listing or refresh.
func (f *File) Usage() shrink.FileUsage {
	return f.usage
}

// Refresh implements shrink.StorageFile.
func (f *File) Refresh(ctx context.Context) (shrink.FileUsage, error) {
	var usage shrink.FileUsage

	err := f.database.server.inDatabase(ctx, f.database.name, func(ctx context.Context, conn *sql.Conn) error {
		row := conn.QueryRowContext(ctx, fileUsageQuery, f.name)
		return row.Scan(&usage.SizeKB, &usage.UsedKB)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return shrink.FileUsage{}, fmt.Errorf("file %s no longer exists in %s", f.name, f.database.name)
	}
	if err != nil {
		return shrink.FileUsage{}, err
	}

	f.usage = usage
	return usage, nil
}

// ShrinkTo implements shrink.StorageFile. Once submitted, the shrink runs to
// completion or error: cancelling ctx does not interrupt it, only the
// statement timeout does.
func (f *File) ShrinkTo(ctx context.Context, targetMB int64, method apiv1.ShrinkMethod) error {
	statement := shrinkFileStatement(f.name, targetMB, method)

	detached := context.WithoutCancel(ctx)
	return f.database.server.inDatabase(detached, f.database.name, func(ctx context.Context, conn *sql.Conn) error {
		if _, err := conn.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("while shrinking %s: %w", f.name, err)
		}
		return nil
	})
}
