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
	"time"

	"github.com/cloudnative-pg/machinery/pkg/log"
	"github.com/robfig/cron"

	apiv1 "github.com/dbshrink/dbshrink/api/v1"
)

var (
	// DefaultMaintenanceSchedule opens the window every day at 01:00.
	// It uses the 6-field format: "second minute hour day-of-month month day-of-week"
	DefaultMaintenanceSchedule = "0 0 1 * * *"

	// DefaultMaintenanceDuration is the default duration of maintenance windows.
	DefaultMaintenanceDuration = 4 * time.Hour

	cronParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
)

// maintenanceWindow is a parsed apiv1.MaintenanceWindow.
type maintenanceWindow struct {
	schedule cron.Schedule
	location *time.Location
	duration time.Duration
}

func parseMaintenanceWindow(cfg *apiv1.MaintenanceWindow) (*maintenanceWindow, bool) {
	schedule := cfg.Schedule
	if schedule == "" {
		schedule = DefaultMaintenanceSchedule
	}

	cronSchedule, err := cronParser.Parse(schedule)
	if err != nil {
		log.Warning("Failed to parse maintenance window cron schedule, treating window as closed",
			"schedule", schedule,
			"error", err)
		return nil, false
	}

	loc := time.UTC
	if cfg.Timezone != "" {
		parsedLoc, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			log.Warning("Failed to parse maintenance window timezone, falling back to UTC",
				"timezone", cfg.Timezone,
				"error", err)
		} else {
			loc = parsedLoc
		}
	}

	duration := DefaultMaintenanceDuration
	if cfg.Duration != "" {
		parsedDuration, err := time.ParseDuration(cfg.Duration)
		if err != nil {
			log.Warning("Failed to parse maintenance window duration, falling back to default",
				"duration", cfg.Duration,
				"default", DefaultMaintenanceDuration,
				"error", err)
		} else {
			duration = parsedDuration
		}
	}

	return &maintenanceWindow{schedule: cronSchedule, location: loc, duration: duration}, true
}

// IsMaintenanceWindowOpen checks if now falls within the maintenance window.
// A nil window is always open; an unparsable schedule is always closed.
func IsMaintenanceWindowOpen(cfg *apiv1.MaintenanceWindow, now time.Time) bool {
	if cfg == nil {
		return true
	}

	window, ok := parseMaintenanceWindow(cfg)
	if !ok {
		return false
	}

	now = now.In(window.location)

	// A window that started more than one duration ago is already over
	windowStart := findMostRecentWindowStart(window.schedule, now, window.duration)
	if windowStart.IsZero() {
		return false
	}

	windowEnd := windowStart.Add(window.duration)
	return !now.Before(windowStart) && now.Before(windowEnd)
}

// NextMaintenanceWindow returns the next maintenance window start after now,
// or nil when no window is configured or the schedule never fires.
func NextMaintenanceWindow(cfg *apiv1.MaintenanceWindow, now time.Time) *time.Time {
	if cfg == nil {
		return nil
	}

	window, ok := parseMaintenanceWindow(cfg)
	if !ok {
		return nil
	}

	next := window.schedule.Next(now.In(window.location))
	if next.IsZero() {
		return nil
	}
	return &next
}

// findMostRecentWindowStart finds the most recent window start within the
// lookback period. The scan is bounded by time: every activation moves
// forward and stops at now, and expressions which never fire (like Feb 31st)
// yield a zero time.
func findMostRecentWindowStart(schedule cron.Schedule, now time.Time, lookback time.Duration) time.Time {
	checkTime := now.Add(-lookback)

	var lastStart time.Time
	for {
		nextStart := schedule.Next(checkTime)
		if nextStart.IsZero() || nextStart.After(now) || !nextStart.After(checkTime) {
			return lastStart
		}
		lastStart = nextStart
		checkTime = nextStart
	}
}
