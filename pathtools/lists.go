// Copyright 2024 The Gantry Authors. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package pathtools

import (
	"strings"
)

// ReplaceSuffix returns path with the given suffix swapped for another.
// Suffixes may span several dots (".tab.c") or none; a path that does not
// end in suffix gains the replacement appended.
func ReplaceSuffix(path, suffix, replacement string) string {
	return strings.TrimSuffix(path, suffix) + replacement
}
