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

// Package batch walks servers, databases and storage files and shrinks
// every eligible file, one at a time.
//
// Work is strictly sequential. A failing server, database or file is
// logged and reported, and the walk continues with the next unit of work.
// Results are streamed to the caller in traversal order.
package batch
