package config

import (
	"errors"
	"fmt"
	"sort"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance is the maximum edit distance for "did you mean?"
// suggestions when unknown config keys are detected.
const maxLevenshteinDistance = 3

// knownKeys lists the valid keys of each table. The empty table name holds
// the top-level keys, including the table names themselves.
var knownKeys = map[string][]string{
	"": {
		"resources_file", "src_dir", "out_dir", "force", "watch",
		"filter", "sync", "watcher", "logging", "substitution",
	},
	"filter":       {"exclude", "ignore_marker"},
	"sync":         {"mtime_tolerance", "state_file"},
	"watcher":      {"backend", "rename_window"},
	"logging":      {"log_level", "log_format"},
	"substitution": {"open", "close", "separator"},
}

func init() {
	// Sorted for deterministic suggestions when two candidates have the
	// same edit distance.
	for _, keys := range knownKeys {
		sort.Strings(keys)
	}
}

// checkUnknownKeys inspects TOML metadata for undecoded keys and returns
// an error with "did you mean?" suggestions for each unknown key.
func checkUnknownKeys(md *toml.MetaData) error {
	undecoded := md.Undecoded()
	if len(undecoded) == 0 {
		return nil
	}

	var errs []error

	seen := make(map[string]bool)

	for _, key := range undecoded {
		table, field := unknownKeyPath(key)

		name := field
		if table != "" {
			name = table + "." + field
		}

		// An unknown table is reported once, not once per key inside it.
		if seen[name] {
			continue
		}

		seen[name] = true
		errs = append(errs, buildKeyError(name, table, field))
	}

	return errors.Join(errs...)
}

// unknownKeyPath splits an undecoded key into the known table it sits in
// (empty for the top level) and the first unknown component.
func unknownKeyPath(key toml.Key) (string, string) {
	if len(key) > 1 {
		if _, known := knownKeys[key[0]]; known {
			return key[0], key[1]
		}
	}

	return "", key[0]
}

// buildKeyError creates a descriptive error for an unknown key, suggesting
// the closest known key of the same table.
func buildKeyError(name, table, field string) error {
	if suggestion := closestMatch(field, knownKeys[table]); suggestion != "" {
		return fmt.Errorf("unknown config key %q, did you mean %q?", name, suggestion)
	}

	return fmt.Errorf("unknown config key %q", name)
}

// closestMatch finds the closest known key by Levenshtein distance.
// Returns empty string if no match is within maxLevenshteinDistance.
func closestMatch(unknown string, known []string) string {
	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range known {
		d := levenshtein(unknown, k)
		if d < bestDist {
			bestDist = d
			best = k
		}
	}

	if bestDist <= maxLevenshteinDistance {
		return best
	}

	return ""
}

// levenshtein computes the edit distance between two strings.
func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}

	if b == "" {
		return len(a)
	}

	// Use single-row optimization to avoid allocating a full matrix.
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := range len(a) {
		curr[0] = i + 1

		for j := range len(b) {
			cost := 1
			if a[i] == b[j] {
				cost = 0
			}

			curr[j+1] = min(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}
