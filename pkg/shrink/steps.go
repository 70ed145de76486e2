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

// PlanSteps computes the sequence of target sizes that brings a file from
// startSize down to desiredSize, reducing it by at most stepSize per call.
//
// Without a step size, or when the reduction fits in a single step, the plan
// is the desired size alone. Otherwise each step targets startSize - stepSize*i,
// clamped so that the last step lands exactly on desiredSize.
// The plan is empty when there is nothing to reclaim.
func PlanSteps(startSize, desiredSize int64, stepSize *int64) []int64 {
	if startSize <= desiredSize {
		return nil
	}

	reduction := startSize - desiredSize
	if stepSize == nil || *stepSize <= 0 || reduction <= *stepSize {
		return []int64{desiredSize}
	}

	step := *stepSize
	count := (reduction + step - 1) / step

	plan := make([]int64, 0, count)
	for i := int64(1); i <= count; i++ {
		target := startSize - step*i
		if target < desiredSize {
			target = desiredSize
		}
		plan = append(plan, target)
	}

	return plan
}
