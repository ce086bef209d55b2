package workspace

import (
	"errors"
	"fmt"
)

// Error reports a problem with on-disk workspace state, as opposed to a
// failure of the tool itself.
type Error struct {
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("workspace %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsWorkspaceError reports whether err is or wraps a workspace *Error.
func IsWorkspaceError(err error) bool {
	var wsErr *Error
	return errors.As(err, &wsErr)
}

var (
	// ErrInvalidIdentifier is returned for namespace, project or site
	// names that are empty or could escape the workspace root.
	ErrInvalidIdentifier = errors.New("invalid workspace identifier")
	// ErrOutsideRoot is returned when asked to act on a path that is not
	// below the workspaces directory.
	ErrOutsideRoot = errors.New("path is outside the workspaces directory")
)
