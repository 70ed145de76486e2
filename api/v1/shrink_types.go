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

// Package v1 contains the configuration and result types shared by the
// shrink engine, the SQL Server handle and the command line.
package v1

import "time"

// ShrinkMethod is the truncation behaviour requested from the storage engine
// when a file is shrunk.
type ShrinkMethod string

const (
	// ShrinkMethodDefault moves data pages to the front of the file and
	// releases the tail to the operating system.
	ShrinkMethodDefault ShrinkMethod = "Default"

	// ShrinkMethodEmptyFile migrates all data to the other files of the same
	// filegroup so the file can be removed.
	ShrinkMethodEmptyFile ShrinkMethod = "EmptyFile"

	// ShrinkMethodNoTruncate moves data pages but keeps the released space
	// allocated to the file.
	ShrinkMethodNoTruncate ShrinkMethod = "NoTruncate"

	// ShrinkMethodTruncateOnly releases the free space at the end of the file
	// without moving any page.
	ShrinkMethodTruncateOnly ShrinkMethod = "TruncateOnly"
)

// FileType selects which storage files of a database are shrink candidates.
type FileType string

const (
	// FileTypeAll selects both data and log files.
	FileTypeAll FileType = "All"
	// FileTypeData selects only data files.
	FileTypeData FileType = "Data"
	// FileTypeLog selects only transaction log files.
	FileTypeLog FileType = "Log"
)

const (
	// DefaultPercentFreeSpace is the free space left in a file after shrinking.
	DefaultPercentFreeSpace = 0

	// MaxPercentFreeSpace is the highest accepted free space percentage.
	MaxPercentFreeSpace = 99
)

// MaintenanceWindow restricts destructive work to a recurring time window.
type MaintenanceWindow struct {
	// Schedule is a 6-field cron expression
	// ("second minute hour day-of-month month day-of-week") marking the
	// start of each window.
	Schedule string `json:"schedule,omitempty" mapstructure:"schedule"`

	// Duration is how long the window stays open, e.g. "2h".
	Duration string `json:"duration,omitempty" mapstructure:"duration"`

	// Timezone is the IANA zone the schedule is evaluated in. Defaults to UTC.
	Timezone string `json:"timezone,omitempty" mapstructure:"timezone"`
}

// ShrinkConfiguration is everything a caller can tune about a shrink run.
type ShrinkConfiguration struct {
	// PercentFreeSpace is the free space, relative to the used space, that
	// each file keeps after shrinking.
	PercentFreeSpace int `json:"percentFreeSpace" mapstructure:"percentFreeSpace" validate:"gte=0,lte=99"`

	// ShrinkMethod is passed to every shrink call.
	ShrinkMethod ShrinkMethod `json:"shrinkMethod" mapstructure:"shrinkMethod" validate:"omitempty,oneof=Default EmptyFile NoTruncate TruncateOnly"`

	// FileType selects data files, log files or both.
	FileType FileType `json:"fileType" mapstructure:"fileType" validate:"omitempty,oneof=All Data Log"`

	// StepSizeMB bounds the reduction requested by a single shrink call.
	// Nil means the whole reduction happens in one call.
	StepSizeMB *int64 `json:"stepSizeMB,omitempty" mapstructure:"stepSizeMB" validate:"omitempty,gt=0"`

	// StatementTimeoutMinutes limits each round trip to the server.
	// Zero means no limit, shrinking a large file can take hours.
	StatementTimeoutMinutes int `json:"statementTimeoutMinutes" mapstructure:"statementTimeoutMinutes" validate:"gte=0"`

	// ExcludeIndexStats disables the fragmentation measurements.
	ExcludeIndexStats bool `json:"excludeIndexStats" mapstructure:"excludeIndexStats"`

	// ExcludeUpdateUsage skips the space usage correction run before the
	// files of a database are measured.
	ExcludeUpdateUsage bool `json:"excludeUpdateUsage" mapstructure:"excludeUpdateUsage"`

	// Databases lists the databases to process.
	Databases []string `json:"databases,omitempty" mapstructure:"databases"`

	// ExcludeDatabases lists databases that are never processed.
	ExcludeDatabases []string `json:"excludeDatabases,omitempty" mapstructure:"excludeDatabases"`

	// AllUserDatabases selects every non-system database.
	AllUserDatabases bool `json:"allUserDatabases" mapstructure:"allUserDatabases"`

	// MaintenanceWindow, when set, keeps files from being shrunk outside
	// of the window.
	MaintenanceWindow *MaintenanceWindow `json:"maintenanceWindow,omitempty" mapstructure:"maintenanceWindow"`

	// LogsOnly is the legacy way of asking for log files only.
	//
	// Deprecated: use FileType Log.
	LogsOnly bool `json:"logsOnly,omitempty" mapstructure:"logsOnly"`
}

// Default fills the unset fields with their default values.
func (cfg *ShrinkConfiguration) Default() {
	if cfg.ShrinkMethod == "" {
		cfg.ShrinkMethod = ShrinkMethodDefault
	}
	if cfg.FileType == "" {
		cfg.FileType = FileTypeAll
	}
}

// StatementTimeout returns the per-statement timeout, zero meaning unbounded.
func (cfg *ShrinkConfiguration) StatementTimeout() time.Duration {
	if cfg == nil || cfg.StatementTimeoutMinutes <= 0 {
		return 0
	}
	return time.Duration(cfg.StatementTimeoutMinutes) * time.Minute
}

// IncludesFileType reports whether files of the given type are candidates.
func (cfg *ShrinkConfiguration) IncludesFileType(fileType FileType) bool {
	switch cfg.FileType {
	case "", FileTypeAll:
		return true
	default:
		return cfg.FileType == fileType
	}
}
