// Package hostenv checks the external toolchain the engine drives.
package hostenv

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Status describes the host's version-control toolchain.
type Status struct {
	GitVersion string
	LFSVersion string
}

// HasLFS reports whether the large-file extension is installed.
func (s Status) HasLFS() bool {
	return s.LFSVersion != ""
}

// Check probes for the git and git-lfs commands. A missing git binary is an
// error; a missing git-lfs only limits large-file handling and is reported
// through the returned status.
func Check(ctx context.Context) (Status, error) {
	var status Status

	out, err := exec.CommandContext(ctx, "git", "--version").Output()
	if err != nil {
		return status, fmt.Errorf("git is not installed or not on PATH: %w", err)
	}
	status.GitVersion = strings.TrimSpace(string(out))

	out, err = exec.CommandContext(ctx, "git", "lfs", "version").Output()
	if err == nil {
		status.LFSVersion = strings.TrimSpace(string(out))
	}

	return status, nil
}
