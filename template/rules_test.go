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

package template

import (
	"testing"

	"github.com/mediavault/transferagent/filemodel"
)

func TestSubfolder_FirstMatchingRuleWinsByPriority(t *testing.T) {
	r := NewResolver([]Rule{
		{Pattern: "*cam*", FolderTemplate: "KAMERA/{date}", Priority: 5},
		{Pattern: "*cam*", FolderTemplate: "OTHER/{date}", Priority: 1},
	}, "Uncategorized", "")

	rec := filemodel.Record{Path: "/src/FrontCam_001.mov"}
	got := r.Subfolder(rec)
	want := "OTHER/FrontC"
	if got != want {
		t.Fatalf("want %q, got %q", want, got)
	}
}

func TestSubfolder_NoMatchFallsBackToDefaultCategory(t *testing.T) {
	r := NewResolver(nil, "Uncategorized", "")
	got := r.Subfolder(filemodel.Record{Path: "/src/whatever.bin"})
	want := "Uncategorized/whatev"
	if got != want {
		t.Fatalf("want %q, got %q", want, got)
	}
}

func TestExtractDate_SliceNotation(t *testing.T) {
	r := NewResolver(nil, "Uncategorized", "filename[0:8]")
	got := r.extractDate("20260730_clip.mov")
	want := "20260730"
	if got != want {
		t.Fatalf("want %q, got %q", want, got)
	}
}

func TestExtractDate_MalformedSliceFallsBackToFirstSix(t *testing.T) {
	r := NewResolver(nil, "Uncategorized", "filename[abc:def]")
	got := r.extractDate("20260730_clip.mov")
	want := "202607"
	if got != want {
		t.Fatalf("want %q, got %q", want, got)
	}
}

func TestParseRulesJSON_EmptyStringIsNoRules(t *testing.T) {
	rules, err := ParseRulesJSON("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rules != nil {
		t.Fatalf("want nil rules, got %v", rules)
	}
}

func TestParseRulesJSON_ParsesArray(t *testing.T) {
	rules, err := ParseRulesJSON(`[{"pattern":"*cam*","folder":"KAMERA/{date}","priority":1,"is_regex":false}]`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rules) != 1 || rules[0].Pattern != "*cam*" {
		t.Fatalf("unexpected parse result: %+v", rules)
	}
}
