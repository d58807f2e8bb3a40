package cli

// This file contains the commands that report already known results.

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/ptreport/ptreport/model"
)

func (a *App) report(ctx *cli.Context) error {
	duration, err := model.ParseRunDuration(ctx.String("duration"))
	if err != nil {
		return err
	}

	output := ctx.String("output")
	if path := ctx.String("output-file"); path != "" {
		if ctx.IsSet("output") {
			return errors.New("--output and --output-file are mutually exclusive")
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read output file: %w", err)
		}
		output = string(data)
	}

	// Attachments named explicitly must exist.
	attachments, err := a.collectAttachments(ctx.StringSlice("attach"), nil, false, true)
	if err != nil {
		return err
	}

	cfg, client, err := a.setup(ctx)
	if err != nil {
		return err
	}

	instanceID, err := a.submit(ctx.Context, client, cfg.TestSetID, ctx.String("test-name"), model.RunResult{
		ExitCode:    ctx.Int("exit-code"),
		Duration:    duration,
		Output:      output,
		Attachments: attachments,
	})
	if err != nil {
		return err
	}

	a.logger.Info().Int("instance_id", instanceID).Msg("Run reported")
	return nil
}

func (a *App) ensure(ctx *cli.Context) error {
	cfg, client, err := a.setup(ctx)
	if err != nil {
		return err
	}

	instanceID, err := client.EnsureInstanceForTest(ctx.Context, cfg.TestSetID, ctx.String("test-name"))
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(ctx.App.Writer, instanceID)
	return err
}
