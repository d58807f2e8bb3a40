package cli

// This file contains attachment selection for reported runs.

import (
	"fmt"
	"os"
)

// collectAttachments returns the files to inline into a run. onFailure files
// are only considered when failed is set. In strict mode a missing or
// unreadable file is an error, otherwise it is skipped with a warning: a
// failing harness does not always get to write its artifacts.
func (a *App) collectAttachments(always, onFailure []string, failed, strict bool) ([]string, error) {
	candidates := append([]string{}, always...)
	if failed {
		candidates = append(candidates, onFailure...)
	}

	attachments := make([]string, 0, len(candidates))
	seen := make(map[string]struct{}, len(candidates))

	for _, path := range candidates {
		if _, ok := seen[path]; ok {
			continue
		}
		seen[path] = struct{}{}

		info, err := os.Stat(path)
		if err == nil && info.IsDir() {
			err = fmt.Errorf("%s is a directory", path)
		}
		if err != nil {
			if strict {
				return nil, fmt.Errorf("invalid attachment: %w", err)
			}
			a.logger.Warn().Err(err).Str("file", path).Msg("Skipping attachment")
			continue
		}

		a.logger.Debug().
			Str("file", path).
			Int64("size", info.Size()).
			Msg("Attaching file")
		attachments = append(attachments, path)
	}

	return attachments, nil
}
