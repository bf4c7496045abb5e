// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation utilities for security-critical operations.
//
// This package contains validators for caller-provided identifiers that end up
// in file paths, archive keys, or vector-store object IDs. Using these
// validators prevents path traversal and key injection.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// runIDPattern matches valid run and thread identifiers.
// Allows: letters, digits, dots, underscores, hyphens. No separators that
// could escape a directory (/, \, ..) survive the pattern.
// Max length: 64 characters.
var runIDPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._\-]{0,63}$`)

// titleKeepPattern matches the characters preserved by SanitizeTitle.
var titleKeepPattern = regexp.MustCompile(`[^a-z0-9]+`)

// ValidateRunID validates a run or thread identifier before it is used in a
// filesystem path or an archive key.
//
// Valid identifiers:
//   - 1-64 characters
//   - Letters, digits, dots, underscores, hyphens
//   - Must start with a letter or digit
//
// Returns an error if the identifier is invalid.
//
// Example:
//
//	if err := validation.ValidateRunID(runID); err != nil {
//	    return fmt.Errorf("invalid run id: %w", err)
//	}
//	// Safe to use in runs/<runID>/ paths and archive keys
func ValidateRunID(id string) error {
	if id == "" {
		return fmt.Errorf("run id cannot be empty")
	}

	if strings.Contains(id, "..") {
		return fmt.Errorf("invalid run id: %q (dot-dot sequences are not allowed)", id)
	}

	if !runIDPattern.MatchString(id) {
		return fmt.Errorf("invalid run id format: %q (must be 1-64 alphanumeric chars, dots, underscores, or hyphens)", id)
	}

	return nil
}

// SanitizeThreadID normalizes and validates a thread identifier for use as a
// directory name. Returns the trimmed identifier if valid.
func SanitizeThreadID(id string) (string, error) {
	normalized := strings.TrimSpace(id)
	if err := ValidateRunID(normalized); err != nil {
		return "", err
	}
	return normalized, nil
}

// SanitizeTitle converts a free-form record title into a filename-safe slug.
//
// The slug is lowercase, contains only [a-z0-9_], never starts or ends with
// an underscore, and is truncated to maxLen runes. An empty or fully
// non-alphanumeric title yields "untitled".
//
// Example:
//
//	validation.SanitizeTitle("Greedy BFS beats DFS on wide graphs!", 40)
//	// "greedy_bfs_beats_dfs_on_wide_graphs"
func SanitizeTitle(title string, maxLen int) string {
	slug := titleKeepPattern.ReplaceAllString(strings.ToLower(title), "_")
	slug = strings.Trim(slug, "_")

	if maxLen > 0 && len(slug) > maxLen {
		slug = strings.Trim(slug[:maxLen], "_")
	}

	if slug == "" {
		return "untitled"
	}
	return slug
}
