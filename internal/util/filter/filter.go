// Package filter provides resource filtering and ordering.
// This package is shared by the CLI listings and the interactive picker so
// both show the same rows in the same order.
package filter

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/kbpicker/kb-picker/internal/models"
)

// Config holds filter configuration.
type Config struct {
	// Include patterns (glob-style). Empty means include all.
	// Example: []string{"*.pdf", "*.docx"}
	Include []string

	// Exclude patterns (glob-style). Takes precedence over Include.
	// Example: []string{"~$*", "*.tmp"}
	Exclude []string

	// Search terms (case-insensitive substring match).
	// A resource must match ALL search terms to be included.
	// Example: []string{"report", "2024"}
	Search []string

	// PathInclude patterns match against the full drive path.
	// Supports standard glob patterns plus ** for multi-directory matching.
	// Example: []string{"Reports/*.pdf", "Projects/*/specs/*"}
	// For ** support: "**/notes.md" matches "a/b/c/notes.md"
	PathInclude []string

	// KeepFolders lets folders bypass Include and PathInclude so the tree
	// stays navigable while files are filtered.
	KeepFolders bool
}

// IsEmpty reports whether the configuration filters nothing.
func (c Config) IsEmpty() bool {
	return len(c.Include) == 0 && len(c.Exclude) == 0 && len(c.Search) == 0 && len(c.PathInclude) == 0
}

// Apply filters resources based on the filter configuration.
func Apply(resources []models.Resource, config Config) []models.Resource {
	if config.IsEmpty() {
		return resources
	}

	filtered := make([]models.Resource, 0, len(resources))
	for _, r := range resources {
		if Matches(r, config) {
			filtered = append(filtered, r)
		}
	}
	return filtered
}

// Matches reports whether a single resource passes the filter.
func Matches(r models.Resource, config Config) bool {
	bypass := config.KeepFolders && r.IsDirectory()

	if len(config.PathInclude) > 0 && !bypass {
		resourcePath := strings.TrimPrefix(r.Path(), "/")
		if !matchesPathFilter(resourcePath, config.PathInclude) {
			return false
		}
	}

	if bypass {
		// Exclusion and search still apply to folders
		return matchesFilter(r.Name(), Config{Exclude: config.Exclude, Search: config.Search})
	}
	return matchesFilter(r.Name(), config)
}

// matchesFilter checks if a filename matches the filter configuration.
func matchesFilter(filename string, config Config) bool {
	// 1. Check exclude patterns first (highest priority)
	for _, pattern := range config.Exclude {
		if matched, _ := filepath.Match(pattern, filename); matched {
			return false // Excluded
		}
		// Also check against base name
		if matched, _ := filepath.Match(pattern, filepath.Base(filename)); matched {
			return false // Excluded
		}
	}

	// 2. Check include patterns
	if len(config.Include) > 0 {
		included := false
		for _, pattern := range config.Include {
			if matched, _ := filepath.Match(pattern, filename); matched {
				included = true
				break
			}
			// Also check against base name
			if matched, _ := filepath.Match(pattern, filepath.Base(filename)); matched {
				included = true
				break
			}
		}
		if !included {
			return false // Not included by any pattern
		}
	}

	// 3. Check search terms (case-insensitive substring match)
	if len(config.Search) > 0 {
		lowerFilename := strings.ToLower(filename)
		for _, term := range config.Search {
			lowerTerm := strings.ToLower(term)
			if !strings.Contains(lowerFilename, lowerTerm) {
				return false // Must match ALL search terms
			}
		}
	}

	return true // Passed all filters
}

// matchesPathFilter checks if a file path matches any of the path patterns.
// Supports glob patterns including ** for multi-directory matching.
func matchesPathFilter(filePath string, patterns []string) bool {
	// Normalize path separators to forward slash
	filePath = filepath.ToSlash(filePath)

	for _, pattern := range patterns {
		pattern = filepath.ToSlash(pattern)
		if matchPathPattern(filePath, pattern) {
			return true
		}
	}
	return false
}

// matchPathPattern matches a single path against a pattern.
// Supports standard glob patterns plus ** for recursive directory matching.
func matchPathPattern(path, pattern string) bool {
	// Handle ** patterns specially
	if strings.Contains(pattern, "**") {
		return matchDoubleStarPattern(path, pattern)
	}

	// Standard glob match
	matched, err := filepath.Match(pattern, path)
	if err != nil {
		return false
	}
	return matched
}

// matchDoubleStarPattern handles ** glob patterns for multi-directory matching.
// Examples:
//   - "**/foo.txt" matches "foo.txt", "a/foo.txt", "a/b/c/foo.txt"
//   - "run_1/**" matches "run_1/anything", "run_1/a/b/c/file.txt"
//   - "run_*/*.dat" matches "run_1/file.dat", "run_5/other.dat"
func matchDoubleStarPattern(path, pattern string) bool {
	// Case 1: Pattern starts with **/ (match any prefix)
	if strings.HasPrefix(pattern, "**/") {
		suffix := pattern[3:] // Remove "**/""
		// Try matching the suffix at any position
		// Check if path ends with this suffix (ignoring leading directories)
		if matchPathPattern(path, suffix) {
			return true
		}
		// Also check each subdirectory level
		parts := strings.Split(path, "/")
		for i := range parts {
			subPath := strings.Join(parts[i:], "/")
			if matchPathPattern(subPath, suffix) {
				return true
			}
		}
		return false
	}

	// Case 2: Pattern ends with /** (match any suffix)
	if strings.HasSuffix(pattern, "/**") {
		prefix := pattern[:len(pattern)-3] // Remove "/**"
		// Check if path starts with this prefix
		if strings.HasPrefix(path, prefix+"/") || path == prefix {
			return true
		}
		// Also try glob match on prefix
		parts := strings.Split(path, "/")
		for i := 1; i <= len(parts); i++ {
			subPath := strings.Join(parts[:i], "/")
			matched, _ := filepath.Match(prefix, subPath)
			if matched {
				return true
			}
		}
		return false
	}

	// Case 3: ** in the middle (e.g., "foo/**/bar.txt")
	// Split pattern at ** and match prefix and suffix
	doubleStar := strings.Index(pattern, "/**/")
	if doubleStar != -1 {
		prefix := pattern[:doubleStar]
		suffix := pattern[doubleStar+4:] // Skip "/**/"

		// Path must start matching prefix and end matching suffix
		// with any number of directories in between
		parts := strings.Split(path, "/")
		for i := 1; i < len(parts); i++ {
			prefixPath := strings.Join(parts[:i], "/")
			if matched, _ := filepath.Match(prefix, prefixPath); matched {
				// Prefix matches, now check suffix for remaining path
				for j := i; j <= len(parts); j++ {
					suffixPath := strings.Join(parts[j:], "/")
					if matchPathPattern(suffixPath, suffix) {
						return true
					}
				}
			}
		}
		return false
	}

	// Case 4: ** is the whole pattern (match everything)
	if pattern == "**" {
		return true
	}

	// Fallback: treat ** as * (match any single segment)
	replaced := strings.ReplaceAll(pattern, "**", "*")
	matched, _ := filepath.Match(replaced, path)
	return matched
}

// ParsePatternList parses a comma-separated list of patterns into a slice.
// Example: "*.dat,*.txt" -> []string{"*.dat", "*.txt"}
func ParsePatternList(patternStr string) []string {
	if patternStr == "" {
		return nil
	}
	parts := strings.Split(patternStr, ",")
	patterns := make([]string, 0, len(parts))
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			patterns = append(patterns, trimmed)
		}
	}
	return patterns
}

// SortField selects the ordering of resource listings.
type SortField string

const (
	SortByName SortField = "name"
	SortByDate SortField = "date"
)

// ParseSortField parses a --sort value. Empty means name.
func ParseSortField(s string) (SortField, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "name":
		return SortByName, nil
	case "date", "modified", "updated":
		return SortByDate, nil
	default:
		return "", fmt.Errorf("unknown sort field %q (use name or date)", s)
	}
}

// Next returns the other sort field; used to cycle the picker ordering.
func (f SortField) Next() SortField {
	if f == SortByDate {
		return SortByName
	}
	return SortByDate
}

// Comparator returns a comparison function ordering folders before files,
// then by field. desc reverses the field order but keeps folders first.
func Comparator(field SortField, desc bool) func(a, b models.Resource) int {
	return func(a, b models.Resource) int {
		if a.IsDirectory() != b.IsDirectory() {
			if a.IsDirectory() {
				return -1
			}
			return 1
		}

		var c int
		if field == SortByDate {
			c = modTime(a).Compare(modTime(b))
		}
		if c == 0 {
			c = strings.Compare(strings.ToLower(a.Name()), strings.ToLower(b.Name()))
		}
		if c == 0 {
			c = strings.Compare(a.ResourceID, b.ResourceID)
		}
		if desc {
			return -c
		}
		return c
	}
}

// Sort orders resources in place.
func Sort(resources []models.Resource, field SortField, desc bool) {
	slices.SortStableFunc(resources, Comparator(field, desc))
}

func modTime(r models.Resource) time.Time {
	if r.UpdatedAt != nil {
		return *r.UpdatedAt
	}
	if r.CreatedAt != nil {
		return *r.CreatedAt
	}
	return time.Time{}
}
