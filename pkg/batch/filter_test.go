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
	apiv1 "github.com/dbshrink/dbshrink/api/v1"
	"github.com/dbshrink/dbshrink/pkg/shrink"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("SelectDatabases", func() {
	var databases []shrink.Database

	BeforeEach(func() {
		databases = []shrink.Database{
			&fakeDatabase{name: "master", system: true},
			&fakeDatabase{name: "tempdb", system: true},
			&fakeDatabase{name: "Sales"},
			&fakeDatabase{name: "hr"},
			&fakeDatabase{name: "archive"},
		}
	})

	names := func(selected []shrink.Database) []string {
		result := make([]string, 0, len(selected))
		for _, db := range selected {
			result = append(result, db.Name())
		}
		return result
	}

	It("selects every user database", func() {
		selected := SelectDatabases(databases, &apiv1.ShrinkConfiguration{AllUserDatabases: true})
		Expect(names(selected)).To(Equal([]string{"Sales", "hr", "archive"}))
	})

	It("selects the named databases only", func() {
		selected := SelectDatabases(databases, &apiv1.ShrinkConfiguration{Databases: []string{"sales", "archive"}})
		Expect(names(selected)).To(Equal([]string{"Sales", "archive"}))
	})

	It("selects system databases when named", func() {
		selected := SelectDatabases(databases, &apiv1.ShrinkConfiguration{Databases: []string{"TempDB"}})
		Expect(names(selected)).To(Equal([]string{"tempdb"}))
	})

	It("treats an exclude list alone as every other user database", func() {
		selected := SelectDatabases(databases, &apiv1.ShrinkConfiguration{ExcludeDatabases: []string{"HR"}})
		Expect(names(selected)).To(Equal([]string{"Sales", "archive"}))
	})

	It("lets exclusions win over inclusions", func() {
		selected := SelectDatabases(databases, &apiv1.ShrinkConfiguration{
			Databases:        []string{"Sales", "hr"},
			ExcludeDatabases: []string{"hr"},
		})
		Expect(names(selected)).To(Equal([]string{"Sales"}))
	})

	It("ignores names that do not exist", func() {
		selected := SelectDatabases(databases, &apiv1.ShrinkConfiguration{Databases: []string{"missing"}})
		Expect(selected).To(BeEmpty())
	})
})
