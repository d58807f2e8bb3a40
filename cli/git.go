package cli

// This file contains Git integration utilities for retrieving
// repository information.

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

type gitInfo struct {
	commit string
	branch string
}

// String renders the info as "branch@commit" with the commit shortened.
func (g gitInfo) String() string {
	commit := g.commit
	if len(commit) > 12 {
		commit = commit[:12]
	}
	return g.branch + "@" + commit
}

func (a *App) getGitInfo(ctx context.Context) (*gitInfo, error) {
	// Get current commit hash
	commit, err := gitOutput(ctx, "rev-parse", "HEAD")
	if err != nil {
		return nil, fmt.Errorf("failed to get git commit: %w", err)
	}

	// Get current branch
	branch, err := gitOutput(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return nil, fmt.Errorf("failed to get git branch: %w", err)
	}

	return &gitInfo{commit: commit, branch: branch}, nil
}

func gitOutput(ctx context.Context, args ...string) (string, error) {
	output, err := exec.CommandContext(ctx, "git", args...).Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(output)), nil
}
