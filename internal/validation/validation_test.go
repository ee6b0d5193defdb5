package validation

import (
	"strings"
	"testing"
)

// TestValidateKnowledgeBaseName tests names given with --name or typed in the picker
func TestValidateKnowledgeBaseName(t *testing.T) {
	testCases := []struct {
		name        string
		input       string
		expectValid bool
		description string
	}{
		{
			name:        "empty",
			input:       "",
			expectValid: true,
			description: "Empty name falls back to the generated default",
		},
		{
			name:        "simple",
			input:       "Quarterly reports",
			expectValid: true,
			description: "Plain name",
		},
		{
			name:        "unicode",
			input:       "Rapports trimestriels é",
			expectValid: true,
			description: "Non-ASCII letters",
		},
		{
			name:        "max_length",
			input:       strings.Repeat("a", 255),
			expectValid: true,
			description: "Exactly the maximum length",
		},
		{
			name:        "too_long",
			input:       strings.Repeat("a", 256),
			expectValid: false,
			description: "One character over the maximum",
		},
		{
			name:        "newline",
			input:       "first\nsecond",
			expectValid: false,
			description: "Control character",
		},
		{
			name:        "null_byte",
			input:       "name\x00",
			expectValid: false,
			description: "Null byte",
		},
		{
			name:        "invalid_utf8",
			input:       "bad\xff",
			expectValid: false,
			description: "Invalid UTF-8",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateKnowledgeBaseName(tc.input)
			if tc.expectValid && err != nil {
				t.Errorf("%s: expected valid, got error: %v", tc.description, err)
			}
			if !tc.expectValid && err == nil {
				t.Errorf("%s: expected error, got nil", tc.description)
			}
		})
	}
}

func TestNormalizeResourcePath(t *testing.T) {
	testCases := []struct {
		input    string
		expected string
	}{
		{"", "/"},
		{"/", "/"},
		{"Reports", "/Reports"},
		{"/Reports/", "/Reports"},
		{"Reports//q1.pdf", "/Reports/q1.pdf"},
		{"  /notes.md  ", "/notes.md"},
	}

	for _, tc := range testCases {
		if got := NormalizeResourcePath(tc.input); got != tc.expected {
			t.Errorf("NormalizeResourcePath(%q) = %q, want %q", tc.input, got, tc.expected)
		}
	}
}

func TestValidateResourcePath(t *testing.T) {
	testCases := []struct {
		name        string
		input       string
		expectValid bool
	}{
		{"file", "/Reports/q1.pdf", true},
		{"no_leading_slash", "Reports/q1.pdf", true},
		{"folder_trailing_slash", "/Reports/", true},
		{"dots_in_name", "/data..v2.csv", true},
		{"root", "/", false},
		{"empty", "", false},
		{"parent_segment", "/Reports/../secret", false},
		{"dot_segment", "/Reports/./q1.pdf", false},
		{"null_byte", "/Reports/q1\x00.pdf", false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateResourcePath(tc.input)
			if tc.expectValid && err != nil {
				t.Errorf("expected %q valid, got error: %v", tc.input, err)
			}
			if !tc.expectValid && err == nil {
				t.Errorf("expected error for %q", tc.input)
			}
		})
	}
}

func TestValidateResourceIDs(t *testing.T) {
	testCases := []struct {
		name        string
		ids         []string
		expectValid bool
	}{
		{"drive_ids", []string{"1AbC_dEf-123", "0Bx9"}, true},
		{"none", nil, true},
		{"empty_id", []string{""}, false},
		{"whitespace", []string{"abc def"}, false},
		{"separator", []string{"abc/def"}, false},
		{"duplicate", []string{"abc", "abc"}, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateResourceIDs(tc.ids)
			if tc.expectValid && err != nil {
				t.Errorf("expected valid, got error: %v", err)
			}
			if !tc.expectValid && err == nil {
				t.Errorf("expected error for %v", tc.ids)
			}
		})
	}
}
