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

// Package template resolves a FileRecord's destination path from an
// ordered set of pattern rules, grounded on
// original_source/app/utils/output_folder_template.py's
// OutputFolderTemplateEngine: first matching rule wins by ascending
// priority, falling back to a default category when none match.
package template

import (
	"fmt"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/mediavault/transferagent/copyengine"
	"github.com/mediavault/transferagent/filemodel"
)

// Rule maps filenames matching Pattern to FolderTemplate, a
// slash-separated path template that may reference {filename},
// {name_no_ext}, and {date}. Rules are evaluated in ascending Priority
// order; the first match wins.
type Rule struct {
	Pattern        string `json:"pattern"`
	FolderTemplate string `json:"folder"`
	Priority       int    `json:"priority"`
	IsRegex        bool   `json:"is_regex"`
}

func (r Rule) matches(filename string) bool {
	if r.IsRegex {
		re, err := regexp.Compile("(?i)" + r.Pattern)
		return err == nil && re.MatchString(filename)
	}
	ok, err := filepath.Match(strings.ToLower(r.Pattern), strings.ToLower(filename))
	return err == nil && ok
}

// Resolver computes a FileRecord's destination path: the matched rule's
// folder template, substituted and joined under destRoot, with
// conflict-free suffixing applied to the final filename.
type Resolver struct {
	Rules           []Rule
	DefaultCategory string
	// DateFormat is either "" (first 6 characters of the filename) or
	// "filename[start:end]"/"filename[index]" slice notation, matching
	// the original's date-extraction spec.
	DateFormat string
}

// NewResolver sorts rules by ascending priority once at construction,
// matching the original's one-time rules.sort(key=priority) at startup.
func NewResolver(rules []Rule, defaultCategory, dateFormat string) *Resolver {
	sorted := make([]Rule, len(rules))
	copy(sorted, rules)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j].Priority < sorted[j-1].Priority; j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	if defaultCategory == "" {
		defaultCategory = "Uncategorized"
	}
	return &Resolver{Rules: sorted, DefaultCategory: defaultCategory, DateFormat: dateFormat}
}

// ParseRulesJSON parses a JSON array of Rule objects, the preferred
// configuration format this port standardizes on (the original also
// accepted an ad hoc "pattern:x;folder:y" string format; that legacy
// syntax is not carried forward here since JSON covers it strictly).
func ParseRulesJSON(raw string) ([]Rule, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var rules []Rule
	if err := json.Unmarshal([]byte(raw), &rules); err != nil {
		return nil, fmt.Errorf("template: parsing rules JSON: %w", err)
	}
	return rules, nil
}

func (t *Resolver) findMatch(filename string) (Rule, bool) {
	for _, r := range t.Rules {
		if r.matches(filename) {
			return r, true
		}
	}
	return Rule{}, false
}

// Subfolder returns the resolved, substituted subfolder path for rec's
// filename, without the destination root or filename appended.
func (t *Resolver) Subfolder(rec filemodel.Record) string {
	filename := filepath.Base(rec.Path)
	folderTemplate := fmt.Sprintf("%s/{date}", t.DefaultCategory)
	if rule, ok := t.findMatch(filename); ok {
		folderTemplate = rule.FolderTemplate
	}
	return t.substitute(folderTemplate, filename)
}

// Resolve returns the final, conflict-free destination path for rec
// under destRoot: subfolder resolution followed by
// copyengine.ConflictFreePath against the resolved directory.
func (t *Resolver) Resolve(destRoot string, rec filemodel.Record) (string, error) {
	filename := filepath.Base(rec.Path)
	subfolder := t.Subfolder(rec)
	dir := filepath.Join(destRoot, filepath.FromSlash(subfolder))
	return copyengine.ConflictFreePath(dir, filename)
}

func (t *Resolver) substitute(tmpl, filename string) string {
	vars := map[string]string{
		"filename":     filename,
		"name_no_ext":  strings.TrimSuffix(filename, path.Ext(filename)),
		"date":         t.extractDate(filename),
	}
	result := tmpl
	for name, value := range vars {
		result = strings.ReplaceAll(result, "{"+name+"}", value)
	}
	return result
}

// extractDate implements the "filename[start:end]" / "filename[index]"
// slice-notation date format, falling back to the first six characters
// of filename either when DateFormat is unset or on a malformed slice,
// matching the original's except-and-fallback behavior.
func (t *Resolver) extractDate(filename string) string {
	df := t.DateFormat
	if !strings.HasPrefix(df, "filename[") || !strings.HasSuffix(df, "]") {
		return firstN(filename, 6)
	}
	slice := df[len("filename[") : len(df)-1]

	if idx := strings.Index(slice, ":"); idx >= 0 {
		startStr, endStr := slice[:idx], slice[idx+1:]
		start, end := 0, len(filename)
		if startStr != "" {
			v, err := strconv.Atoi(startStr)
			if err != nil {
				return firstN(filename, 6)
			}
			start = v
		}
		if endStr != "" {
			v, err := strconv.Atoi(endStr)
			if err != nil {
				return firstN(filename, 6)
			}
			end = v
		}
		if start < 0 || end > len(filename) || start > end {
			return firstN(filename, 6)
		}
		return filename[start:end]
	}

	index, err := strconv.Atoi(slice)
	if err != nil || index < 0 || index >= len(filename) {
		return firstN(filename, 6)
	}
	return string(filename[index])
}

func firstN(s string, n int) string {
	if len(s) < n {
		return s
	}
	return s[:n]
}
