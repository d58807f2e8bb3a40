package model

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// RunResult is the outcome of a single test execution as it is reported
// against a PractiTest instance. It is only ever sent, never read back.
type RunResult struct {
	// InstanceID is the PractiTest instance the run is recorded against
	InstanceID int
	// ExitCode of the test execution, 0 means passed
	ExitCode int
	// Duration in "HH:MM:SS" format, omitted from the payload when empty
	Duration string
	// Output is the automated execution output, omitted when empty
	Output string
	// Attachments are file paths whose content is inlined into the run
	Attachments []string
}

// Attachment is a file inlined into a run submission.
type Attachment struct {
	// Filename without any directory components
	Filename string
	// Content holds the raw file bytes
	Content []byte
}

// LoadAttachment reads the file at path into an Attachment.
func LoadAttachment(path string) (Attachment, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Attachment{}, fmt.Errorf("failed to read attachment: %w", err)
	}

	return Attachment{
		Filename: filepath.Base(path),
		Content:  content,
	}, nil
}

// Passed reports whether the run counts as a pass.
func (r RunResult) Passed() bool {
	return r.ExitCode == 0
}

// FormatRunDuration renders d as "HH:MM:SS". Partial seconds are rounded up
// so that a run that took 4.2s is reported as 00:00:05.
func FormatRunDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}

	total := int64(math.Ceil(d.Seconds()))

	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}

var runDurationPattern = regexp.MustCompile(`^(\d+):([0-5]\d):([0-5]\d)$`)

// ParseRunDuration accepts either "HH:MM:SS" or a Go duration string
// (e.g. "5s", "1m30s") and returns the normalized "HH:MM:SS" form.
// An empty input yields an empty result.
func ParseRunDuration(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", nil
	}

	if m := runDurationPattern.FindStringSubmatch(s); m != nil {
		hours, _ := strconv.Atoi(m[1])
		minutes, _ := strconv.Atoi(m[2])
		seconds, _ := strconv.Atoi(m[3])
		return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds), nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return "", fmt.Errorf("invalid run duration %q: expected HH:MM:SS or a duration like 5s", s)
	}

	return FormatRunDuration(d), nil
}

var unsafeNameChars = regexp.MustCompile(`[^\w\-]+`)

// SanitizeName replaces every run of characters outside [A-Za-z0-9_-] with
// a single underscore. Harnesses use it to derive artifact file names (for
// example failure screenshots) from test names.
func SanitizeName(name string) string {
	return unsafeNameChars.ReplaceAllString(name, "_")
}
