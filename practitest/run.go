package practitest

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"

	"github.com/ptreport/ptreport/model"
)

// CreateRun submits result against its instance and returns the unparsed
// response body. Attachment files are read and base64 encoded at call time.
func (c *Client) CreateRun(ctx context.Context, result model.RunResult) ([]byte, error) {
	attachments := make([]model.Attachment, 0, len(result.Attachments))
	for _, path := range result.Attachments {
		a, err := model.LoadAttachment(path)
		if err != nil {
			return nil, err
		}
		attachments = append(attachments, a)
	}

	body, err := c.transport.Execute(ctx, http.MethodPost, c.projectPath("runs.json"), buildRunRequest(result, attachments))
	if err != nil {
		return nil, fmt.Errorf("failed to create run for instance %d: %w", result.InstanceID, err)
	}

	c.logger.Info().
		Int("instance_id", result.InstanceID).
		Int("exit_code", result.ExitCode).
		Int("attachments", len(attachments)).
		Msg("Submitted PractiTest run")

	return body, nil
}

// buildRunRequest shapes the run payload. Empty duration and output are left
// out, files only appear when there is at least one attachment.
func buildRunRequest(result model.RunResult, attachments []model.Attachment) createRequest {
	data := createData{
		// The runs endpoint expects the instances type tag.
		Type: typeInstances,
		Attributes: runAttributes{
			InstanceID:  result.InstanceID,
			ExitCode:    result.ExitCode,
			RunDuration: result.Duration,
			Output:      result.Output,
		},
	}

	if len(attachments) > 0 {
		files := &runFiles{Data: make([]runFile, 0, len(attachments))}
		for _, a := range attachments {
			files.Data = append(files.Data, runFile{
				Filename:       a.Filename,
				ContentEncoded: base64.StdEncoding.EncodeToString(a.Content),
			})
		}
		data.Files = files
	}

	return createRequest{Data: data}
}
