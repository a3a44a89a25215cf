package docker

import (
	"errors"
	"fmt"
	"strings"

	"github.com/docker/docker/errdefs"
)

var (
	// ErrNotFound indicates the requested Docker resource was not found.
	ErrNotFound = errors.New("docker: resource not found")
	// ErrConflict indicates a container with the requested name already exists.
	ErrConflict = errors.New("docker: resource already exists")
)

// classify maps daemon errors onto the package sentinels while keeping the
// daemon's own message in the chain.
func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errdefs.IsNotFound(err) || strings.Contains(err.Error(), "No such container"):
		return fmt.Errorf("%s: %w: %s", op, ErrNotFound, err.Error())
	case errdefs.IsConflict(err) || strings.Contains(err.Error(), "already in use"):
		return fmt.Errorf("%s: %w: %s", op, ErrConflict, err.Error())
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
