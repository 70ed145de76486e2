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
	"fmt"
	"strings"

	apiv1 "github.com/dbshrink/dbshrink/api/v1"
)

// maxSystemDatabaseID is the highest database_id of master, tempdb, model and msdb.
const maxSystemDatabaseID = 4

const serverPropertiesQuery = `
	SELECT
		CAST(SERVERPROPERTY('ProductVersion') AS nvarchar(128)),
		CAST(SERVERPROPERTY('MachineName') AS nvarchar(128)),
		CAST(ISNULL(SERVERPROPERTY('InstanceName'), 'MSSQLSERVER') AS nvarchar(128))
`

const listDatabasesQuery = `
	SELECT
		d.name,
		d.database_id,
		CASE WHEN d.source_database_id IS NULL THEN 0 ELSE 1 END,
		d.state_desc,
		ISNULL(HAS_DBACCESS(d.name), 0)
	FROM sys.databases d
	ORDER BY d.name
`

// Sizes in sys.database_files are 8 KB pages.
const listFilesQuery = `
	SELECT
		name,
		CAST(size AS bigint) * 8,
		CAST(ISNULL(FILEPROPERTY(name, 'SpaceUsed'), 0) AS bigint) * 8
	FROM sys.database_files
	WHERE type_desc = @p1
	ORDER BY file_id
`

const fileUsageQuery = `
	SELECT
		CAST(size AS bigint) * 8,
		CAST(ISNULL(FILEPROPERTY(name, 'SpaceUsed'), 0) AS bigint) * 8
	FROM sys.database_files
	WHERE name = @p1
`

// fragmentationQuery is a single aggregate over every index of a database.
// Heaps (index_id 0) have no logical ordering and are ignored.
const fragmentationQuery = `
	SELECT
		AVG(ips.avg_fragmentation_in_percent),
		MAX(ips.avg_fragmentation_in_percent)
	FROM sys.dm_db_index_physical_stats(DB_ID(@p1), NULL, NULL, NULL, 'LIMITED') ips
	WHERE ips.index_id > 0
	GROUP BY ips.database_id
`

const updateUsageStatement = "DBCC UPDATEUSAGE (0) WITH NO_INFOMSGS"

// fileTypeDesc maps a file type to the sys.database_files type_desc value.
func fileTypeDesc(fileType apiv1.FileType) string {
	if fileType == apiv1.FileTypeLog {
		return "LOG"
	}
	return "ROWS"
}

// QuoteName delimits an identifier with square brackets.
func QuoteName(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// quoteLiteral renders a Unicode string literal.
func quoteLiteral(value string) string {
	return "N'" + strings.ReplaceAll(value, "'", "''") + "'"
}

// shrinkFileStatement builds the DBCC SHRINKFILE statement for a file.
func shrinkFileStatement(file string, targetMB int64, method apiv1.ShrinkMethod) string {
	switch method {
	case apiv1.ShrinkMethodEmptyFile:
		return fmt.Sprintf("DBCC SHRINKFILE (%s, EMPTYFILE) WITH NO_INFOMSGS", quoteLiteral(file))
	case apiv1.ShrinkMethodNoTruncate:
		return fmt.Sprintf("DBCC SHRINKFILE (%s, %d, NOTRUNCATE) WITH NO_INFOMSGS", quoteLiteral(file), targetMB)
	case apiv1.ShrinkMethodTruncateOnly:
		return fmt.Sprintf("DBCC SHRINKFILE (%s, %d, TRUNCATEONLY) WITH NO_INFOMSGS", quoteLiteral(file), targetMB)
	default:
		return fmt.Sprintf("DBCC SHRINKFILE (%s, %d) WITH NO_INFOMSGS", quoteLiteral(file), targetMB)
	}
}
