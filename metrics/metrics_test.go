/*
Copyright 2017 Google Inc. All Rights Reserved.
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package metrics

import "testing"

func TestStatusCode_MapsKnownStatuses(t *testing.T) {
	cases := map[string]float64{
		"OK":       0,
		"WARNING":  1,
		"ERROR":    2,
		"CRITICAL": 3,
	}
	for status, want := range cases {
		if got := StatusCode(status); got != want {
			t.Errorf("StatusCode(%q) = %v, want %v", status, got, want)
		}
	}
}

func TestStatusCode_UnknownStatusReturnsNegativeOne(t *testing.T) {
	if got := StatusCode("whatever"); got != -1 {
		t.Fatalf("want -1 for an unrecognized status, got %v", got)
	}
}
