package git

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failed git operation so callers can decide retry policy
// without parsing diagnostic text themselves.
type Kind int

const (
	// KindUnknown covers failures with no recognized cause.
	KindUnknown Kind = iota
	// KindConflict indicates a merge conflict or divergent history.
	KindConflict
	// KindRemoteUnreachable indicates the remote could not be contacted.
	KindRemoteUnreachable
	// KindNoRemoteRef indicates the remote branch does not exist yet.
	KindNoRemoteRef
	// KindOversize indicates the remote rejected a push because of file size
	// (direct size limit, aborted RPC, or a reset mid-transfer).
	KindOversize
	// KindHookRejected indicates a commit hook refused the operation.
	KindHookRejected
	// KindNotARepo indicates the directory is not a usable git worktree.
	KindNotARepo
)

// String returns a human-readable name for the kind.
func (k Kind) String() string {
	switch k {
	case KindConflict:
		return "conflict"
	case KindRemoteUnreachable:
		return "remote-unreachable"
	case KindNoRemoteRef:
		return "no-remote-ref"
	case KindOversize:
		return "oversize"
	case KindHookRejected:
		return "hook-rejected"
	case KindNotARepo:
		return "not-a-repo"
	default:
		return "unknown"
	}
}

// Error is a failed git operation with its classified kind and the raw
// subprocess output for diagnostics.
type Error struct {
	Op     string
	Kind   Kind
	Output string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("git %s (%s): %v: %s", e.Op, e.Kind, e.Err, strings.TrimSpace(e.Output))
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the classified kind of err, or KindUnknown when err was not
// produced by this package.
func KindOf(err error) Kind {
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr.Kind
	}
	return KindUnknown
}

// classify wraps a failed subprocess invocation in an *Error. The substring
// sniffing below is the only place diagnostic text is interpreted; the git
// binary offers nothing more structured than its stderr.
func classify(op string, output []byte, err error) error {
	if err == nil {
		return nil
	}
	return &Error{
		Op:     op,
		Kind:   sniffOutput(string(output)),
		Output: string(output),
		Err:    err,
	}
}

var oversizeMarkers = []string{
	"file size exceeds",
	"exceeds github's file size limit",
	"rpc failed",
	"remote end hung up unexpectedly",
}

var unreachableMarkers = []string{
	"could not read from remote repository",
	"could not resolve host",
	"unable to access",
	"connection refused",
	"connection timed out",
}

func sniffOutput(output string) Kind {
	lower := strings.ToLower(output)

	for _, m := range oversizeMarkers {
		if strings.Contains(lower, m) {
			return KindOversize
		}
	}
	if strings.Contains(lower, "couldn't find remote ref") {
		return KindNoRemoteRef
	}
	for _, m := range unreachableMarkers {
		if strings.Contains(lower, m) {
			return KindRemoteUnreachable
		}
	}
	if strings.Contains(lower, "not a git repository") {
		return KindNotARepo
	}
	if strings.Contains(lower, "hook") && strings.Contains(lower, "failed") {
		return KindHookRejected
	}
	if strings.Contains(lower, "conflict") || strings.Contains(lower, "merge") {
		return KindConflict
	}
	return KindUnknown
}
