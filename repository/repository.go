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

// Package repository holds the in-memory FileRecord store keyed by
// identity. It is the single source of truth: every other component reads
// a record through here rather than holding a shared pointer to it.
package repository

import (
	"sync"

	"github.com/golang/glog"

	"github.com/mediavault/transferagent/filemodel"
)

// Repository is a thread-safe, in-memory CRUD store for FileRecords. All
// mutations hold the internal lock only for the duration of a single call;
// it is never held across an I/O operation or an event publish.
type Repository struct {
	mu      sync.Mutex
	records map[filemodel.Identity]filemodel.Record
}

// New returns an empty Repository.
func New() *Repository {
	return &Repository{records: make(map[filemodel.Identity]filemodel.Record)}
}

// GetByID returns the record for id, and false if it is absent.
func (r *Repository) GetByID(id filemodel.Identity) (filemodel.Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return filemodel.Record{}, false
	}
	return rec.Clone(), true
}

// GetAll returns a snapshot of every record currently held.
func (r *Repository) GetAll() []filemodel.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]filemodel.Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec.Clone())
	}
	return out
}

// Add inserts rec. If an identity collision occurs, the existing record is
// left untouched and ok is false: a duplicate identity can only indicate a
// caller bug (identities are meant to be generated fresh per instance), so
// callers should treat a false return as a programming error, not a retry
// signal.
func (r *Repository) Add(rec filemodel.Record) (ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.records[rec.Identity]; exists {
		glog.Errorf("repository: refusing to add duplicate identity %s", rec.Identity)
		return false
	}
	r.records[rec.Identity] = rec
	return true
}

// Update overwrites the record stored at rec.Identity. If no record exists
// there yet, Update logs a warning and inserts rec anyway (insert-on-missing,
// confirmed against the original implementation's file_repository.py).
func (r *Repository) Update(rec filemodel.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.records[rec.Identity]; !exists {
		glog.Warningf("repository: updating unknown identity %s, inserting", rec.Identity)
	}
	r.records[rec.Identity] = rec
}

// Remove deletes the record at id, if present.
func (r *Repository) Remove(id filemodel.Identity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, id)
}

// Count returns the number of records currently held.
func (r *Repository) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// RecordsForPath returns every record (including history) that was ever
// observed at path, in no particular order. At most one of the returned
// records has a non-Removed status.
func (r *Repository) RecordsForPath(path string) []filemodel.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []filemodel.Record
	for _, rec := range r.records {
		if rec.Path == path {
			out = append(out, rec.Clone())
		}
	}
	return out
}

// ActiveForPath returns the single non-Removed record at path, if any.
// The scanner's add_file idempotence and the duplicate-filename-after-
// completion invariant both depend on this query.
func (r *Repository) ActiveForPath(path string) (filemodel.Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.records {
		if rec.Path == path && rec.Status != filemodel.Removed {
			return rec.Clone(), true
		}
	}
	return filemodel.Record{}, false
}
