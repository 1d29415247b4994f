package errors

import (
	"regexp"
	"strings"
	"unicode"
)

// ValidateAtom validates a user-supplied atom or dependency expression for
// safety before it is used to build filesystem paths or queries.
// It rejects names that could be used for path traversal or injection attacks.
//
// The validation rules are intentionally conservative:
//   - No empty names
//   - No control characters or whitespace
//   - No path traversal sequences (.., //, etc.)
//   - No null bytes
//   - Maximum length of 256 characters
//
// Grammar checks are done separately by the atom parser.
func ValidateAtom(name string) error {
	if name == "" {
		return New(ErrCodeInvalidAtom, "atom cannot be empty")
	}

	if len(name) > 256 {
		return New(ErrCodeInvalidAtom, "atom too long (max 256 characters)")
	}

	for _, r := range name {
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			return New(ErrCodeInvalidAtom, "atom contains invalid characters")
		}
	}

	dangerousPatterns := []string{
		"..",   // Parent directory
		"//",   // Double slash
		"\x00", // Null byte
		"\\",   // Backslash (Windows path)
	}

	for _, pattern := range dangerousPatterns {
		if strings.Contains(name, pattern) {
			return New(ErrCodeInvalidAtom, "atom contains invalid characters: %q", pattern)
		}
	}

	return nil
}

// ValidatePath validates a file path relative to a workspace root.
// It prevents path traversal attacks and ensures reasonable path length.
//
// Validation rules:
//   - Path cannot be empty
//   - Maximum length of 500 characters
//   - No null bytes or control characters
//   - No absolute paths (must be relative)
//   - No path traversal sequences (..)
//   - No backslashes (Windows-style paths)
func ValidatePath(path string) error {
	if path == "" {
		return New(ErrCodeInvalidPath, "path cannot be empty")
	}

	const maxPathLength = 500
	if len(path) > maxPathLength {
		return New(ErrCodeInvalidPath, "path too long (max %d characters)", maxPathLength)
	}

	for _, r := range path {
		if r == '\x00' || unicode.IsControl(r) {
			return New(ErrCodeInvalidPath, "path contains invalid characters")
		}
	}

	if strings.HasPrefix(path, "/") {
		return New(ErrCodeInvalidPath, "path must be relative (cannot start with /)")
	}

	if strings.Contains(path, "..") {
		return New(ErrCodeInvalidPath, "path cannot contain path traversal sequences (..)")
	}

	if strings.Contains(path, "\\") {
		return New(ErrCodeInvalidPath, "path cannot contain backslashes")
	}

	return nil
}

// segmentNameRegex matches repository segment and species directory names.
var segmentNameRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._+-]*$`)

// ValidateSegmentName validates a repository segment name (a single directory
// beneath the workspace root, e.g. "portage-overlay").
func ValidateSegmentName(name string) error {
	if err := ValidatePath(name); err != nil {
		return err
	}
	if !segmentNameRegex.MatchString(name) {
		return New(ErrCodeInvalidPath, "invalid segment name: %q", name)
	}
	return nil
}
