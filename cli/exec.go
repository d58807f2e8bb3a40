package cli

import (
	"errors"
	"strings"
	"unicode/utf8"

	"al.essio.dev/pkg/shellescape"
	"github.com/urfave/cli/v2"

	"github.com/ptreport/ptreport/model"
)

const (
	// maxTailLines and maxTailBytes bound the command output kept in the
	// run output of a failed command.
	maxTailLines = 100
	maxTailBytes = 32 << 10
)

func (a *App) execCommand(ctx *cli.Context) error {
	args := removeFirstDashDash(ctx.Args().Slice())
	if len(args) == 0 {
		return errors.New("no command specified: use ptreport exec --test-name NAME -- COMMAND [ARGS...]")
	}

	// Fail on configuration problems before spending time on the command.
	cfg, client, err := a.setup(ctx)
	if err != nil {
		return err
	}

	commandLine := shellescape.QuoteCommand(args)
	a.logger.Info().Str("command", commandLine).Msg("Running command")

	res := a.executeLocalCommand(ctx.Context, args, ctx.App.Writer, ctx.App.ErrWriter)

	// Capture git info (non-fatal if it fails)
	git, err := a.getGitInfo(ctx.Context)
	if err != nil {
		a.logger.Debug().Err(err).Msg("No git information available")
	}

	failed := res.exitCode != 0
	attachments, err := a.collectAttachments(ctx.StringSlice("attach"), ctx.StringSlice("attach-on-failure"), failed, false)
	if err != nil {
		return err
	}

	captured := res.output
	if res.startErr != nil {
		captured += res.startErr.Error()
	}

	if _, err := a.submit(ctx.Context, client, cfg.TestSetID, ctx.String("test-name"), model.RunResult{
		ExitCode:    res.exitCode,
		Duration:    model.FormatRunDuration(res.duration),
		Output:      buildExecOutput(commandLine, git, res.exitCode, captured),
		Attachments: attachments,
	}); err != nil {
		return err
	}

	if failed {
		return cli.Exit("", res.exitCode)
	}
	return nil
}

// buildExecOutput renders the run output of a command: the command line,
// the git revision when known, then PASSED or FAILED with the output tail.
func buildExecOutput(commandLine string, git *gitInfo, exitCode int, captured string) string {
	var b strings.Builder

	b.WriteString("$ ")
	b.WriteString(commandLine)
	b.WriteString("\n")
	if git != nil {
		b.WriteString("git: ")
		b.WriteString(git.String())
		b.WriteString("\n")
	}

	if exitCode == 0 {
		b.WriteString("PASSED")
		return b.String()
	}

	b.WriteString("FAILED")
	if tail := outputTail(captured, maxTailLines, maxTailBytes); tail != "" {
		b.WriteString("\n")
		b.WriteString(tail)
	}
	return b.String()
}

// outputTail returns at most the last maxLines lines of s, further limited to
// the last maxBytes bytes. Trailing blank lines are dropped.
func outputTail(s string, maxLines, maxBytes int) string {
	s = strings.TrimRight(s, " \t\r\n")
	if s == "" {
		return ""
	}

	lines := strings.Split(s, "\n")
	if len(lines) > maxLines {
		lines = lines[len(lines)-maxLines:]
	}
	tail := strings.Join(lines, "\n")

	if len(tail) > maxBytes {
		tail = tail[len(tail)-maxBytes:]
		for len(tail) > 0 && !utf8.RuneStart(tail[0]) {
			tail = tail[1:]
		}
		// Do not start in the middle of a line.
		if i := strings.IndexByte(tail, '\n'); i >= 0 && i < len(tail)-1 {
			tail = tail[i+1:]
		}
	}

	return tail
}
