package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/ptreport/ptreport/junit"
	"github.com/ptreport/ptreport/model"
)

func (a *App) junitReport(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return errors.New("expected exactly one JUnit report file")
	}
	path := ctx.Args().First()

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open JUnit report: %w", err)
	}
	defer f.Close()

	cases, err := junit.New().Parse(f)
	if err != nil {
		return fmt.Errorf("failed to parse JUnit report %s: %w", path, err)
	}

	cfg, client, err := a.setup(ctx)
	if err != nil {
		return err
	}

	label := ctx.String("label")
	attachmentsDir := ctx.String("attachments-dir")
	stripPrefix := ctx.String("strip-prefix")

	var reported, failed, skipped int
	for _, tc := range cases {
		if tc.Status == junit.StatusSkipped {
			a.logger.Debug().Str("test_name", tc.Name).Msg("Skipping test case without result")
			skipped++
			continue
		}

		var screenshots []string
		if attachmentsDir != "" {
			screenshots = []string{filepath.Join(attachmentsDir, model.SanitizeName(tc.Name)+".png")}
		}
		attachments, err := a.collectAttachments(nil, screenshots, tc.Failed(), false)
		if err != nil {
			return err
		}

		result := junitRunResult(tc, label)
		result.Attachments = attachments

		if _, err := a.submit(ctx.Context, client, cfg.TestSetID, reportedName(tc.Name, stripPrefix), result); err != nil {
			return err
		}

		reported++
		if tc.Failed() {
			failed++
		}
	}

	a.logger.Info().
		Str("file", path).
		Int("reported", reported).
		Int("failed", failed).
		Int("skipped", skipped).
		Msg("JUnit report submitted")

	return nil
}

// junitRunResult converts a test case into a run, without instance and
// attachments.
func junitRunResult(tc junit.TestCase, label string) model.RunResult {
	prefix := ""
	if label != "" {
		prefix = label + ": "
	}

	result := model.RunResult{
		Duration: model.FormatRunDuration(tc.Duration),
		Output:   prefix + "PASSED",
	}

	if tc.Failed() {
		result.ExitCode = 1
		result.Output = prefix + "FAILED"
		if tc.Message != "" {
			result.Output += "\n" + tc.Message
		}
	}

	return result
}

// reportedName removes prefix from a test case name. Names that would end
// up empty are kept whole.
func reportedName(name, prefix string) string {
	if prefix == "" {
		return name
	}
	if trimmed := strings.TrimSpace(strings.TrimPrefix(name, prefix)); trimmed != "" {
		return trimmed
	}
	return name
}
