package suballoc

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrOutOfMemory is returned (wrapped) from Reserve when a backend
// allocation callback failed, or no block can grow to accommodate the
// request. It is recoverable: the caller may retry with a smaller request
// or after freeing other regions.
var ErrOutOfMemory = errors.New("suballoc: out of memory")

// ErrNoFit is returned (wrapped) from Reserve when no compatible region
// was found and block growth is disallowed by configuration (e.g. the
// maximum block count was reached). It is recoverable.
var ErrNoFit = errors.New("suballoc: no compatible region available")

// invalidError marks a programmer error: a malformed request, a handle not
// owned by this allocator, or a missing required callback. At request
// time (a bad MemoryRequest passed to Reserve, a *Region not owned by the
// allocator it was passed to) this is unrecoverable and the call site
// panics with it rather than returning it as an ordinary error value. At
// construction time (New validating Config/MemoryAllocators) it is
// returned as an ordinary error instead, since a factory function failing
// before anything has been allocated is the normal, recoverable case.
type invalidError struct {
	msg string
}

func (e *invalidError) Error() string { return "suballoc: invalid: " + e.msg }

func newInvalidError(format string, args ...any) error {
	return &invalidError{msg: fmt.Sprintf(format, args...)}
}
