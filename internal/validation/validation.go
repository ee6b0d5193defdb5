// Package validation provides input validation utilities for kb-picker.
package validation

import (
	"fmt"
	"path"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/kbpicker/kb-picker/internal/constants"
)

// ValidateKnowledgeBaseName validates a user-supplied knowledge base name.
// An empty name is valid: a timestamped default is generated.
//
// Returns an error if the name:
//   - Is longer than constants.MaxKnowledgeBaseNameLength characters
//   - Contains control characters (including newlines and null bytes)
//   - Is not valid UTF-8
func ValidateKnowledgeBaseName(name string) error {
	if !utf8.ValidString(name) {
		return fmt.Errorf("knowledge base name is not valid UTF-8")
	}
	if n := utf8.RuneCountInString(name); n > constants.MaxKnowledgeBaseNameLength {
		return fmt.Errorf("knowledge base name is %d characters, maximum is %d", n, constants.MaxKnowledgeBaseNameLength)
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return fmt.Errorf("knowledge base name contains control character %q", r)
		}
	}
	return nil
}

// NormalizeResourcePath converts a drive path to the form used by the
// knowledge base resource endpoints: a leading slash, no trailing slash and
// no duplicate separators. The root is "/".
func NormalizeResourcePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return constants.RootResourcePath
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	// path.Clean would also resolve ".." which ValidateResourcePath rejects
	for strings.Contains(p, "//") {
		p = strings.ReplaceAll(p, "//", "/")
	}
	if len(p) > 1 {
		p = strings.TrimSuffix(p, "/")
	}
	return p
}

// ValidateResourcePath validates a knowledge base resource path before it is
// sent to a delete. The path is normalized first.
//
// Returns an error if the path:
//   - Is the root (deleting "/" would empty the knowledge base)
//   - Contains "." or ".." segments
//   - Contains null bytes
func ValidateResourcePath(p string) error {
	if strings.ContainsRune(p, 0) {
		return fmt.Errorf("resource path contains null byte")
	}

	normalized := NormalizeResourcePath(p)
	if normalized == constants.RootResourcePath {
		return fmt.Errorf("resource path cannot be the knowledge base root")
	}

	for _, segment := range strings.Split(strings.TrimPrefix(normalized, "/"), "/") {
		if segment == "." || segment == ".." {
			return fmt.Errorf("resource path cannot contain %q segments: %s", segment, p)
		}
	}

	if path.Clean(normalized) != normalized {
		return fmt.Errorf("resource path is not canonical: %s", p)
	}
	return nil
}

// ValidateResourceID validates a drive resource id given on the command line.
//
// Returns an error if the id:
//   - Is empty
//   - Contains whitespace, path separators or null bytes
func ValidateResourceID(id string) error {
	if id == "" {
		return fmt.Errorf("resource id cannot be empty")
	}
	for _, r := range id {
		switch {
		case r == 0:
			return fmt.Errorf("resource id contains null byte")
		case unicode.IsSpace(r):
			return fmt.Errorf("resource id cannot contain whitespace: %q", id)
		case r == '/' || r == '\\':
			return fmt.Errorf("resource id cannot contain path separators: %s", id)
		}
	}
	return nil
}

// ValidateResourceIDs validates every id and rejects duplicates.
func ValidateResourceIDs(ids []string) error {
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if err := ValidateResourceID(id); err != nil {
			return err
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("resource id given twice: %s", id)
		}
		seen[id] = struct{}{}
	}
	return nil
}
