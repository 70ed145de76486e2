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

// FileUsage is the observed allocation of a storage file, in KB.
type FileUsage struct {
	SizeKB int64
	UsedKB int64
}

// FreeKB returns the allocated but unused space.
func (u FileUsage) FreeKB() int64 {
	if u.UsedKB >= u.SizeKB {
		return 0
	}
	return u.SizeKB - u.UsedKB
}

// SizeMB returns the allocated size in MB.
func (u FileUsage) SizeMB() float64 {
	return KBToMB(u.SizeKB)
}

// UsedMB returns the used space in MB.
func (u FileUsage) UsedMB() float64 {
	return KBToMB(u.UsedKB)
}

// FreeMB returns the free space in MB.
func (u FileUsage) FreeMB() float64 {
	return KBToMB(u.FreeKB())
}

// KBToMB converts a KB amount to MB for reporting.
func KBToMB(kb int64) float64 {
	return float64(kb) / 1024
}

// CeilKBToMB converts a KB amount to whole MB, rounding up so that a target
// derived from it never undershoots.
func CeilKBToMB(kb int64) int64 {
	if kb <= 0 {
		return 0
	}
	return (kb + 1023) / 1024
}

// CalculateDesiredSize calculates the free space to keep and the resulting
// file size for the given used space.
// Formula: desiredFree = ceil((1 + percentFree/100) * used), desiredTotal = used + desiredFree
//
// Both values use the unit of usedSpace. The percentage is expected to be
// already validated to [0, 99]; negative inputs are treated as zero.
func CalculateDesiredSize(usedSpace int64, percentFree int) (desiredFree, desiredTotal int64) {
	if usedSpace < 0 {
		usedSpace = 0
	}
	if percentFree < 0 {
		percentFree = 0
	}

	// Integer ceiling of used * (100 + percentFree) / 100
	desiredFree = (usedSpace*int64(100+percentFree) + 99) / 100
	desiredTotal = usedSpace + desiredFree

	return desiredFree, desiredTotal
}

// NeedsShrink checks if a file has more free space than desired. A file that
// already has less free space would not change or would have to grow.
func NeedsShrink(usage FileUsage, desiredFree int64) bool {
	return usage.FreeKB() > desiredFree
}
