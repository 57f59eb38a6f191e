// Copyright (c) 2026 Sagaforge. All rights reserved.
// Author: dev@sagaforge.app

package saga

import (
	"regexp"
	"strconv"
	"strings"
)

// # Chronology

// Temporal markers are free text written by saga authors ("Year 512",
// "512.3 AE", "1204 BE"). ParseMarker extracts a sortable ordinal so the
// rule evaluator can compare markers without prescribing a date format.

var markerNumber = regexp.MustCompile(`[-+]?\d+(?:\.\d+)?`)

// ParseMarker converts a free-text temporal marker into a sortable ordinal.
//
// # Format
//
// The first signed decimal number found in the marker is the ordinal.
// A "BE" (before-era) suffix anywhere after the number negates it, so
// "1204 BE" sorts before "1 AE". The second return value is false when the
// marker is empty or contains no number — an unparsable marker is a rule
// finding, never an error.
func ParseMarker(marker string) (float64, bool) {
	trimmed := strings.TrimSpace(marker)
	if trimmed == "" {
		return 0, false
	}

	match := markerNumber.FindString(trimmed)
	if match == "" {
		return 0, false
	}

	ordinal, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 0, false
	}

	// Before-era markers count backwards.
	rest := trimmed[strings.Index(trimmed, match)+len(match):]
	if hasEraSuffix(rest, "BE") {
		ordinal = -ordinal
	}

	return ordinal, true
}

// hasEraSuffix reports whether the text after the number carries the given
// era tag as a standalone word (case-insensitive).
func hasEraSuffix(rest, tag string) bool {
	for _, word := range strings.Fields(rest) {
		if strings.EqualFold(strings.Trim(word, ".,"), tag) {
			return true
		}
	}
	return false
}
