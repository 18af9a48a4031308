package export

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"unicode"
)

// ErrInvalidOutputDir is returned when a report cannot be written to the
// requested directory.
var ErrInvalidOutputDir = errors.New("invalid output_dir")

// ClipFileName names the clip [start, end) of base the way the backend names
// downloaded clips: <base>_<start>-<end>.mp4 with two decimals.
func ClipFileName(base string, start, end float64) string {
	name := SanitizeName(base, maxNameLen)
	if name == "" {
		name = "clip"
	}
	return fmt.Sprintf("%s_%.2f-%.2f.mp4", name, start, end)
}

// SanitizeName turns a video id into something safe to use as a file name
// on any desktop OS. Control characters are dropped, path separators and
// other punctuation become '_', and leading dots or trailing dots and spaces
// are trimmed so the result is never hidden or rejected by Windows.
func SanitizeName(s string, maxLen int) string {
	mapped := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsControl(r):
			return -1
		case unicode.IsLetter(r), unicode.IsDigit(r), strings.ContainsRune(" -_.,()", r):
			return r
		default:
			return '_'
		}
	}, s)

	name := strings.TrimRight(strings.TrimLeft(strings.TrimSpace(mapped), "."), ". ")
	if runes := []rune(name); maxLen > 0 && len(runes) > maxLen {
		name = strings.TrimRight(string(runes[:maxLen]), ". ")
	}
	return name
}

// ValidateOutputDir accepts an existing, clean directory path without ".."
// segments. Every failure wraps ErrInvalidOutputDir.
func ValidateOutputDir(dir string) error {
	if strings.TrimSpace(dir) == "" {
		return fmt.Errorf("%w: output_dir is required", ErrInvalidOutputDir)
	}
	if slices.Contains(strings.Split(filepath.ToSlash(dir), "/"), "..") {
		return fmt.Errorf("%w: %s contains ..", ErrInvalidOutputDir, dir)
	}
	if filepath.Clean(dir) != dir {
		return fmt.Errorf("%w: %s is not a clean path", ErrInvalidOutputDir, dir)
	}

	info, err := os.Stat(dir)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("%w: %s does not exist", ErrInvalidOutputDir, dir)
	case err != nil:
		return fmt.Errorf("%w: %v", ErrInvalidOutputDir, err)
	case !info.IsDir():
		return fmt.Errorf("%w: %s is not a directory", ErrInvalidOutputDir, dir)
	}
	return nil
}
