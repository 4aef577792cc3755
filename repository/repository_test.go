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

package repository

import (
	"testing"

	"github.com/mediavault/transferagent/filemodel"
)

func TestAdd_RejectsDuplicateIdentity(t *testing.T) {
	r := New()
	rec := filemodel.Record{Identity: "a", Path: "/src/a.mov"}
	if !r.Add(rec) {
		t.Fatal("want first Add to succeed")
	}
	dup := filemodel.Record{Identity: "a", Path: "/src/other.mov"}
	if r.Add(dup) {
		t.Fatal("want duplicate Add to fail")
	}
	got, _ := r.GetByID("a")
	if got.Path != "/src/a.mov" {
		t.Fatalf("want original record preserved, got %+v", got)
	}
}

func TestUpdate_InsertsOnMissingIdentity(t *testing.T) {
	r := New()
	rec := filemodel.Record{Identity: "missing", Path: "/src/x.mov"}
	r.Update(rec)

	got, ok := r.GetByID("missing")
	if !ok {
		t.Fatal("want Update to insert an unknown identity")
	}
	if got.Path != "/src/x.mov" {
		t.Fatalf("unexpected record: %+v", got)
	}
}

func TestGetByID_ReturnsIndependentClone(t *testing.T) {
	r := New()
	r.Add(filemodel.Record{Identity: "a", RetryInfo: &filemodel.RetryInfo{Reason: "space"}})

	got, _ := r.GetByID("a")
	got.RetryInfo.Reason = "mutated"

	again, _ := r.GetByID("a")
	if again.RetryInfo.Reason != "space" {
		t.Fatalf("mutating a returned clone leaked into the store: %+v", again.RetryInfo)
	}
}

func TestGetAll_ReturnsAllRecords(t *testing.T) {
	r := New()
	r.Add(filemodel.Record{Identity: "a"})
	r.Add(filemodel.Record{Identity: "b"})

	all := r.GetAll()
	if len(all) != 2 {
		t.Fatalf("want 2 records, got %d", len(all))
	}
}

func TestRecordsForPath_ReturnsHistory(t *testing.T) {
	r := New()
	r.Add(filemodel.Record{Identity: "a", Path: "/src/f.mov", Status: filemodel.Removed})
	r.Add(filemodel.Record{Identity: "b", Path: "/src/f.mov", Status: filemodel.Discovered})

	got := r.RecordsForPath("/src/f.mov")
	if len(got) != 2 {
		t.Fatalf("want 2 records of history for path, got %d", len(got))
	}
}

func TestActiveForPath_SkipsRemovedRecords(t *testing.T) {
	r := New()
	r.Add(filemodel.Record{Identity: "a", Path: "/src/f.mov", Status: filemodel.Removed})

	if _, ok := r.ActiveForPath("/src/f.mov"); ok {
		t.Fatal("want no active record when only a Removed one exists")
	}

	r.Add(filemodel.Record{Identity: "b", Path: "/src/f.mov", Status: filemodel.Discovered})
	got, ok := r.ActiveForPath("/src/f.mov")
	if !ok || got.Identity != "b" {
		t.Fatalf("want the non-Removed record, got %+v ok=%v", got, ok)
	}
}

func TestCount_ReflectsAddsAndRemoves(t *testing.T) {
	r := New()
	r.Add(filemodel.Record{Identity: "a"})
	r.Add(filemodel.Record{Identity: "b"})
	r.Remove("a")

	if got := r.Count(); got != 1 {
		t.Fatalf("want count 1, got %d", got)
	}
}
