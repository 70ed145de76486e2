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
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"k8s.io/utils/ptr"

	apiv1 "github.com/dbshrink/dbshrink/api/v1"
	"github.com/dbshrink/dbshrink/pkg/shrink"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Orchestrator", func() {
	var (
		ctx       context.Context
		cfg       apiv1.ShrinkConfiguration
		connector *fakeConnector
		serverX   *fakeServer
		serverY   *fakeServer
		appDB     *fakeDatabase
		results   []apiv1.ShrinkResult
		sink      Sink
		clock     time.Time
		tick      func() time.Time
	)

	BeforeEach(func() {
		ctx = context.Background()
		cfg = apiv1.ShrinkConfiguration{AllUserDatabases: true}
		appDB = &fakeDatabase{
			name:      "app",
			dataFiles: []*fakeFile{newDataFile("app_data", 1000, 100)},
			logFiles:  []*fakeFile{newLogFile("app_log", 500, 10)},
		}
		serverX = &fakeServer{name: "sqlx", databases: []*fakeDatabase{appDB}, supportsFragmentation: true}
		serverY = &fakeServer{name: "sqly"}
		connector = &fakeConnector{servers: map[string]*fakeServer{"sqlx": serverX, "sqly": serverY}}

		results = nil
		sink = func(r apiv1.ShrinkResult) { results = append(results, r) }

		clock = time.Date(2026, 3, 10, 2, 0, 0, 0, time.UTC)
		tick = func() time.Time {
			clock = clock.Add(time.Second)
			return clock
		}
	})

	run := func(instances ...string) error {
		return New(connector, cfg, WithClock(tick)).Run(ctx, instances, sink)
	}

	Describe("configuration", func() {
		It("fails before contacting any server without a database selection", func() {
			cfg.AllUserDatabases = false

			err := run("sqlx")

			var cfgErr *apiv1.ConfigurationError
			Expect(errors.As(err, &cfgErr)).To(BeTrue())
			Expect(connector.connected).To(BeEmpty())
			Expect(results).To(BeEmpty())
		})

		It("fails before contacting any server with an invalid percentage", func() {
			cfg.PercentFreeSpace = 150
			Expect(run("sqlx")).ToNot(Succeed())
			Expect(connector.connected).To(BeEmpty())
		})
	})

	Describe("shrinking a data file", func() {
		BeforeEach(func() {
			cfg.FileType = apiv1.FileTypeData
		})

		It("shrinks to used space plus the desired free space", func() {
			Expect(run("sqlx")).To(Succeed())

			Expect(results).To(HaveLen(1))
			result := results[0]
			Expect(result.Outcome).To(Equal(apiv1.OutcomeShrunk))
			Expect(result.Success).To(BeTrue())
			Expect(result.SQLInstance).To(Equal("sqlx"))
			Expect(result.ComputerName).To(Equal("HOST-sqlx"))
			Expect(result.Database).To(Equal("app"))
			Expect(result.File).To(Equal("app_data"))
			Expect(result.InitialSizeMB).To(BeNumerically("==", 1000))
			Expect(result.InitialAvailableMB).To(BeNumerically("==", 900))
			Expect(result.TargetAvailableMB).To(BeNumerically("==", 100))
			Expect(result.DesiredSizeMB).To(Equal(int64(200)))
			Expect(result.Plan).To(Equal([]int64{200}))
			Expect(result.FinalSizeMB).To(BeNumerically("==", 200))
			Expect(result.FinalAvailableMB).To(BeNumerically("==", 100))
			Expect(result.Notes).To(Equal(apiv1.FragmentationNote))
			Expect(result.Elapsed).To(BeNumerically(">", 0))
			Expect(serverX.closed).To(BeTrue())
		})

		It("honours the free space percentage", func() {
			cfg.PercentFreeSpace = 50
			Expect(run("sqlx")).To(Succeed())
			Expect(results[0].DesiredSizeMB).To(Equal(int64(250)))
			Expect(appDB.dataFiles[0].calls).To(Equal([]int64{250}))
		})

		It("shrinks in steps", func() {
			cfg.StepSizeMB = ptr.To[int64](300)
			Expect(run("sqlx")).To(Succeed())
			Expect(appDB.dataFiles[0].calls).To(Equal([]int64{700, 400, 200}))
			Expect(results[0].StepsCompleted).To(Equal(3))
		})

		It("runs update usage unless excluded", func() {
			Expect(run("sqlx")).To(Succeed())
			Expect(appDB.updateUsage).To(Equal(1))

			cfg.ExcludeUpdateUsage = true
			Expect(run("sqlx")).To(Succeed())
			Expect(appDB.updateUsage).To(Equal(1))
		})

		It("continues when update usage fails", func() {
			appDB.updateUsageErr = errors.New("permission denied")
			Expect(run("sqlx")).To(Succeed())
			Expect(results[0].Outcome).To(Equal(apiv1.OutcomeShrunk))
		})
	})

	Describe("eligibility", func() {
		It("skips files with less free space than requested without shrinking", func() {
			cfg.FileType = apiv1.FileTypeData
			appDB.dataFiles = []*fakeFile{newDataFile("tight", 150, 100)}

			Expect(run("sqlx")).To(Succeed())

			Expect(results).To(HaveLen(1))
			Expect(results[0].Outcome).To(Equal(apiv1.OutcomeSkipped))
			Expect(results[0].Success).To(BeFalse())
			Expect(results[0].Error).To(BeEmpty())
			Expect(appDB.dataFiles[0].calls).To(BeEmpty())
		})

		It("skips files whose free space equals the desired free space", func() {
			cfg.FileType = apiv1.FileTypeData
			appDB.dataFiles = []*fakeFile{newDataFile("exact", 200, 100)}

			Expect(run("sqlx")).To(Succeed())
			Expect(results[0].Outcome).To(Equal(apiv1.OutcomeSkipped))
			Expect(appDB.dataFiles[0].calls).To(BeEmpty())
		})

		It("skips snapshots with a single skip outcome", func() {
			appDB.snapshot = true

			Expect(run("sqlx")).To(Succeed())

			Expect(results).To(HaveLen(1))
			Expect(results[0].Outcome).To(Equal(apiv1.OutcomeSkipped))
			Expect(results[0].File).To(BeEmpty())
			Expect(results[0].Notes).To(ContainSubstring("snapshot"))
			Expect(appDB.dataFiles[0].calls).To(BeEmpty())
			Expect(appDB.logFiles[0].calls).To(BeEmpty())
		})

		It("skips inaccessible databases", func() {
			appDB.inaccessible = true
			Expect(run("sqlx")).To(Succeed())
			Expect(results).To(HaveLen(1))
			Expect(results[0].Outcome).To(Equal(apiv1.OutcomeSkipped))
		})

		It("never touches system databases unless named", func() {
			master := &fakeDatabase{name: "master", system: true, dataFiles: []*fakeFile{newDataFile("master", 100, 5)}}
			serverX.databases = []*fakeDatabase{master, appDB}
			cfg.FileType = apiv1.FileTypeData

			Expect(run("sqlx")).To(Succeed())
			Expect(results).To(HaveLen(1))
			Expect(results[0].Database).To(Equal("app"))
		})

		It("selects files by type", func() {
			cfg.FileType = apiv1.FileTypeLog
			Expect(run("sqlx")).To(Succeed())
			Expect(results).To(HaveLen(1))
			Expect(results[0].File).To(Equal("app_log"))
			Expect(results[0].FileType).To(Equal("Log"))
		})

		It("processes data files before log files", func() {
			Expect(run("sqlx")).To(Succeed())
			Expect(results).To(HaveLen(2))
			Expect(results[0].File).To(Equal("app_data"))
			Expect(results[1].File).To(Equal("app_log"))
		})
	})

	Describe("failure isolation", func() {
		It("keeps processing the next files after a shrink failure", func() {
			failing := newDataFile("f1", 1000, 100)
			failing.shrinkErr = errors.New("lock timeout")
			second := newDataFile("f2", 1000, 100)
			third := newDataFile("f3", 800, 100)
			appDB.dataFiles = []*fakeFile{failing, second, third}
			cfg.FileType = apiv1.FileTypeData

			Expect(run("sqlx")).To(Succeed())

			Expect(results).To(HaveLen(3))
			Expect(results[0].Outcome).To(Equal(apiv1.OutcomeFailed))
			Expect(results[0].Error).To(ContainSubstring("lock timeout"))
			Expect(results[0].FragmentationAfter).To(BeNil())
			Expect(results[1].Outcome).To(Equal(apiv1.OutcomeShrunk))
			Expect(results[1].Error).To(BeEmpty())
			Expect(results[1].InitialSizeMB).To(BeNumerically("==", 1000))
			Expect(results[2].Outcome).To(Equal(apiv1.OutcomeShrunk))
			Expect(results[2].InitialSizeMB).To(BeNumerically("==", 800))
			Expect(second.calls).To(Equal([]int64{200}))
			Expect(third.calls).To(Equal([]int64{200}))
		})

		It("keeps the progress of a stepped shrink that fails", func() {
			file := newDataFile("f1", 1000, 100)
			file.failAtCall = 2
			file.shrinkErr = errors.New("log backup in progress")
			appDB.dataFiles = []*fakeFile{file}
			cfg.FileType = apiv1.FileTypeData
			cfg.StepSizeMB = ptr.To[int64](300)

			Expect(run("sqlx")).To(Succeed())
			Expect(results).To(HaveLen(1))
			Expect(results[0].Outcome).To(Equal(apiv1.OutcomeFailed))
			Expect(results[0].StepsCompleted).To(Equal(1))
			Expect(results[0].FinalSizeMB).To(BeNumerically("==", 700))
			Expect(results[0].ReclaimedMB()).To(BeNumerically("==", 300))
		})

		It("reports sizing failures and continues", func() {
			broken := newDataFile("broken", 1000, 100)
			broken.refreshErr = errors.New("metadata unavailable")
			appDB.dataFiles = []*fakeFile{broken, newDataFile("ok", 1000, 100)}
			cfg.FileType = apiv1.FileTypeData

			Expect(run("sqlx")).To(Succeed())
			Expect(results).To(HaveLen(2))
			Expect(results[0].Outcome).To(Equal(apiv1.OutcomeFailed))
			Expect(results[0].Error).To(ContainSubstring("metadata unavailable"))
			Expect(broken.calls).To(BeEmpty())
			Expect(results[1].Outcome).To(Equal(apiv1.OutcomeShrunk))
		})

		It("reports a database whose files cannot be listed and continues", func() {
			other := &fakeDatabase{name: "other", dataFiles: []*fakeFile{newDataFile("o", 1000, 100)}}
			appDB.filesErr = errors.New("access denied")
			serverX.databases = []*fakeDatabase{appDB, other}
			cfg.FileType = apiv1.FileTypeData

			Expect(run("sqlx")).To(Succeed())
			Expect(results).To(HaveLen(2))
			Expect(results[0].Database).To(Equal("app"))
			Expect(results[0].Outcome).To(Equal(apiv1.OutcomeFailed))
			Expect(results[1].Database).To(Equal("other"))
			Expect(results[1].Outcome).To(Equal(apiv1.OutcomeShrunk))
		})

		It("isolates connection failures to the failing server", func() {
			connector.failures = map[string]error{"sqlx": errors.New("login timeout")}
			serverY.databases = []*fakeDatabase{{name: "web", dataFiles: []*fakeFile{newDataFile("web", 400, 100)}}}
			cfg.FileType = apiv1.FileTypeData

			err := run("sqlx", "sqly")

			Expect(err).To(HaveOccurred())
			var connErr *shrink.ConnectionError
			Expect(errors.As(err, &connErr)).To(BeTrue())
			Expect(connErr.Instance).To(Equal("sqlx"))

			Expect(connector.connected).To(Equal([]string{"sqlx", "sqly"}))
			Expect(results).To(HaveLen(1))
			Expect(results[0].SQLInstance).To(Equal("sqly"))
			Expect(results[0].Outcome).To(Equal(apiv1.OutcomeShrunk))
		})

		It("treats a failing database listing as a server failure", func() {
			serverX.listErr = errors.New("VIEW ANY DATABASE denied")
			err := run("sqlx")
			Expect(err).To(MatchError(ContainSubstring("VIEW ANY DATABASE denied")))
			Expect(results).To(BeEmpty())
			Expect(serverX.closed).To(BeTrue())
		})
	})

	Describe("fragmentation", func() {
		BeforeEach(func() {
			cfg.FileType = apiv1.FileTypeData
			serverX.fragmentation = []apiv1.FragmentationSample{
				apiv1.NewFragmentationSample(5, 20),
				apiv1.NewFragmentationSample(40, 95),
			}
		})

		It("is measured before and after a successful shrink", func() {
			Expect(run("sqlx")).To(Succeed())
			Expect(results[0].FragmentationBefore).To(Equal(ptr.To(apiv1.NewFragmentationSample(5, 20))))
			Expect(results[0].FragmentationAfter).To(Equal(ptr.To(apiv1.NewFragmentationSample(40, 95))))
		})

		It("is not measured when excluded", func() {
			cfg.ExcludeIndexStats = true
			Expect(run("sqlx")).To(Succeed())
			Expect(serverX.fragmentationCalls).To(BeZero())
			Expect(results[0].FragmentationBefore).To(BeNil())
			Expect(results[0].FragmentationAfter).To(BeNil())
		})

		It("is not measured on servers that do not support it", func() {
			serverX.supportsFragmentation = false
			Expect(run("sqlx")).To(Succeed())
			Expect(serverX.fragmentationCalls).To(BeZero())
		})

		It("is only measured before the shrink when only log files are selected", func() {
			cfg.FileType = apiv1.FileTypeLog
			Expect(run("sqlx")).To(Succeed())
			Expect(serverX.fragmentationCalls).To(Equal(1))
			Expect(results).To(HaveLen(1))
			Expect(results[0].File).To(Equal("app_log"))
			Expect(results[0].FragmentationBefore).To(Equal(ptr.To(apiv1.NewFragmentationSample(5, 20))))
			Expect(results[0].FragmentationAfter).To(BeNil())
		})

		It("is measured around log file shrinks when every file type is selected", func() {
			cfg.FileType = apiv1.FileTypeAll
			appDB.dataFiles = nil
			Expect(run("sqlx")).To(Succeed())
			Expect(serverX.fragmentationCalls).To(Equal(2))
			Expect(results).To(HaveLen(1))
			Expect(results[0].FileType).To(Equal("Log"))
			Expect(results[0].FragmentationBefore).To(Equal(ptr.To(apiv1.NewFragmentationSample(5, 20))))
			Expect(results[0].FragmentationAfter).To(Equal(ptr.To(apiv1.NewFragmentationSample(40, 95))))
		})

		It("is not measured after a failed shrink", func() {
			appDB.dataFiles[0].shrinkErr = errors.New("boom")
			Expect(run("sqlx")).To(Succeed())
			Expect(serverX.fragmentationCalls).To(Equal(1))
			Expect(results[0].FragmentationBefore).ToNot(BeNil())
			Expect(results[0].FragmentationAfter).To(BeNil())
		})

		It("does not fail the file when sampling fails", func() {
			serverX.fragmentationErr = errors.New("timeout")
			Expect(run("sqlx")).To(Succeed())
			Expect(results[0].Outcome).To(Equal(apiv1.OutcomeShrunk))
			Expect(results[0].FragmentationBefore).To(BeNil())
		})
	})

	Describe("gate", func() {
		BeforeEach(func() {
			cfg.FileType = apiv1.FileTypeData
		})

		It("previews the plan in dry run", func() {
			cfg.StepSizeMB = ptr.To[int64](300)
			err := New(connector, cfg, WithClock(tick), WithGate(DryRun)).Run(ctx, []string{"sqlx"}, sink)
			Expect(err).ToNot(HaveOccurred())

			Expect(results).To(HaveLen(1))
			Expect(results[0].Outcome).To(Equal(apiv1.OutcomeWhatIf))
			Expect(results[0].Plan).To(Equal([]int64{700, 400, 200}))
			Expect(appDB.dataFiles[0].calls).To(BeEmpty())
			Expect(serverX.fragmentationCalls).To(BeZero())
		})

		It("does not update space usage in dry run", func() {
			err := New(connector, cfg, WithClock(tick), WithGate(DryRun)).Run(ctx, []string{"sqlx"}, sink)
			Expect(err).ToNot(HaveOccurred())
			Expect(appDB.updateUsage).To(BeZero())
		})

		It("leaves declined files untouched", func() {
			var asked []Target
			gate := GateFunc(func(_ context.Context, target Target) (Decision, error) {
				asked = append(asked, target)
				return Decline, nil
			})
			Expect(New(connector, cfg, WithClock(tick), WithGate(gate)).Run(ctx, []string{"sqlx"}, sink)).To(Succeed())

			Expect(asked).To(HaveLen(1))
			Expect(asked[0].File).To(Equal("app_data"))
			Expect(asked[0].DesiredSizeMB).To(Equal(int64(200)))
			Expect(results[0].Outcome).To(Equal(apiv1.OutcomeSkipped))
			Expect(appDB.dataFiles[0].calls).To(BeEmpty())
		})

		It("fails the file when the gate errors", func() {
			gate := GateFunc(func(context.Context, Target) (Decision, error) {
				return Decline, errors.New("no terminal")
			})
			Expect(New(connector, cfg, WithClock(tick), WithGate(gate)).Run(ctx, []string{"sqlx"}, sink)).To(Succeed())
			Expect(results[0].Outcome).To(Equal(apiv1.OutcomeFailed))
			Expect(results[0].Error).To(ContainSubstring("no terminal"))
		})

		It("stops the run once the context is cancelled", func() {
			cancelCtx, cancel := context.WithCancel(ctx)
			defer cancel()
			appDB.dataFiles = append(appDB.dataFiles, newDataFile("second", 1000, 100))
			gate := GateFunc(func(context.Context, Target) (Decision, error) {
				cancel()
				return Decline, nil
			})

			err := New(connector, cfg, WithClock(tick), WithGate(gate)).Run(cancelCtx, []string{"sqlx", "sqly"}, sink)
			Expect(errors.Is(err, context.Canceled)).To(BeTrue())
			Expect(results).To(HaveLen(1))
			Expect(connector.connected).To(Equal([]string{"sqlx"}))
		})
	})

	Describe("cancellation", func() {
		It("does not count the interrupted server as a failure", func() {
			cancelCtx, cancel := context.WithCancel(ctx)
			defer cancel()
			other := &fakeDatabase{name: "other", dataFiles: []*fakeFile{newDataFile("o", 1000, 100)}}
			serverX.databases = []*fakeDatabase{appDB, other}
			cfg.FileType = apiv1.FileTypeData

			metrics := NewMetrics()
			gate := GateFunc(func(context.Context, Target) (Decision, error) {
				cancel()
				return Decline, nil
			})

			err := New(connector, cfg, WithClock(tick), WithGate(gate), WithMetrics(metrics)).
				Run(cancelCtx, []string{"sqlx", "sqly"}, sink)

			Expect(errors.Is(err, context.Canceled)).To(BeTrue())
			Expect(results).To(HaveLen(1))
			Expect(connector.connected).To(Equal([]string{"sqlx"}))
			Expect(testutil.CollectAndCount(metrics.ServerFailures)).To(BeZero())
			Expect(testutil.ToFloat64(metrics.LastRunTimestamp)).To(BeNumerically(">", 0))
		})
	})

	Describe("maintenance window", func() {
		It("postpones shrinks outside of the window", func() {
			cfg.FileType = apiv1.FileTypeData
			cfg.MaintenanceWindow = &apiv1.MaintenanceWindow{Schedule: "0 0 22 * * *", Duration: "1h"}

			Expect(run("sqlx")).To(Succeed())
			Expect(results[0].Outcome).To(Equal(apiv1.OutcomeSkipped))
			Expect(results[0].Notes).To(ContainSubstring("next window opens at 2026-03-10T22:00:00Z"))
			Expect(appDB.dataFiles[0].calls).To(BeEmpty())
		})

		It("shrinks inside the window", func() {
			cfg.FileType = apiv1.FileTypeData
			cfg.MaintenanceWindow = &apiv1.MaintenanceWindow{Schedule: "0 0 1 * * *", Duration: "2h"}

			Expect(run("sqlx")).To(Succeed())
			Expect(results[0].Outcome).To(Equal(apiv1.OutcomeShrunk))
		})
	})

	Describe("metrics", func() {
		It("records outcomes, reclaimed space and server failures", func() {
			connector.failures = map[string]error{"sqly": errors.New("down")}
			metrics := NewMetrics()
			Expect(metrics.Register(prometheus.NewRegistry())).To(Succeed())

			err := New(connector, cfg, WithClock(tick), WithMetrics(metrics)).Run(ctx, []string{"sqlx", "sqly"}, sink)
			Expect(err).To(HaveOccurred())

			Expect(testutil.ToFloat64(metrics.FilesTotal.WithLabelValues("sqlx", "Data", "Shrunk"))).To(Equal(1.0))
			Expect(testutil.ToFloat64(metrics.FilesTotal.WithLabelValues("sqlx", "Log", "Shrunk"))).To(Equal(1.0))
			// 800 MB from the data file, 480 MB from the log file
			Expect(testutil.ToFloat64(metrics.ReclaimedMegabytes.WithLabelValues("sqlx", "app"))).To(Equal(1280.0))
			Expect(testutil.ToFloat64(metrics.ServerFailures.WithLabelValues("sqly"))).To(Equal(1.0))
			Expect(testutil.ToFloat64(metrics.LastRunTimestamp)).To(BeNumerically(">", 0))
		})
	})
})
