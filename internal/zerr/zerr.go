// Package zerr defines the error taxonomy shared by the zone allocator and
// its backends. Each kind is a sentinel usable with errors.Is; constructors
// wrap the sentinel with context so callers can both branch on the kind and
// log a useful message.
package zerr

import (
	"errors"
	"fmt"
)

var (
	// ErrNoSpace reports that no meta or IO zone is available, or that an
	// append exceeds the zone's remaining capacity.
	ErrNoSpace = errors.New("no space")

	// ErrIO reports a failed backend call; the wrapped message carries the
	// underlying errno text.
	ErrIO = errors.New("io error")

	// ErrInvalidArgument reports a caller mistake such as a non-exclusive
	// write open.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotSupported reports a device the allocator cannot run on.
	ErrNotSupported = errors.New("not supported")

	// ErrCorruption reports a broken internal invariant, such as a busy
	// flag that could not be released. It is not recoverable.
	ErrCorruption = errors.New("corruption")
)

func NoSpace(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNoSpace, fmt.Sprintf(format, args...))
}

func IOError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrIO, fmt.Sprintf(format, args...))
}

// WrapIO attaches the IO kind to an underlying error while keeping the
// original chain intact, so errors.Is sees both.
func WrapIO(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrIO, op, err)
}

func InvalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

func NotSupported(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotSupported, fmt.Sprintf(format, args...))
}

func Corruption(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCorruption, fmt.Sprintf(format, args...))
}
