package ocfl

import "errors"

// Error taxonomy for the repository engine (spec §7). Each kind is a
// distinct sentinel so callers compose checks with errors.Is/errors.As;
// call sites wrap these with fmt.Errorf("...: %w", ...) to add context.
var (
	// ErrNotFound: requested object or version is absent.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists: operation would create an object that already exists.
	ErrAlreadyExists = errors.New("already exists")

	// ErrObjectOutOfSync: optimistic-concurrency failure — the object's head
	// moved, or its mutable HEAD was clobbered, since it was loaded. The
	// caller may retry the whole operation against a freshly loaded object.
	ErrObjectOutOfSync = errors.New("object out of sync")

	// ErrOverwrite: an add/rename/reinstate target exists and OVERWRITE was
	// not requested.
	ErrOverwrite = errors.New("logical path exists and overwrite not requested")

	// ErrFixity: a computed digest differs from the expected digest.
	ErrFixity = errors.New("fixity check failed")

	// ErrCorruptObject: on-disk state violates an invariant (missing
	// sidecar, manifest mismatch, unknown extension, id mismatch, etc).
	ErrCorruptObject = errors.New("corrupt object")

	// ErrInvalidInventory: the inventory parses but fails shallow validation.
	ErrInvalidInventory = errors.New("invalid inventory")

	// ErrValidation: the full validator reported one or more issues.
	ErrValidation = errors.New("validation failed")

	// ErrPathConstraint: a logical or content path violates configured
	// path constraints.
	ErrPathConstraint = errors.New("path constraint violation")

	// ErrRepositoryConfiguration: missing NAMASTE, layout mismatch, or
	// unsupported OCFL spec version at the repository root.
	ErrRepositoryConfiguration = errors.New("repository configuration error")

	// ErrOcflState: the caller violated the API's protocol, e.g. calling
	// update_object while a mutable HEAD is active.
	ErrOcflState = errors.New("invalid operation for current object state")

	// ErrLockAcquisition: a per-object lock could not be acquired before
	// its configured timeout elapsed.
	ErrLockAcquisition = errors.New("lock acquisition timed out")
)

// CommitError wraps an error produced while publishing a new object version
// (version writer, §4.6, or mutable HEAD controller, §4.7). Dirty indicates
// that the object's on-disk state may be incomplete as a result of the
// error — the caller should treat the object as needing inspection even
// though the primary error has already been returned.
type CommitError struct {
	Err   error
	Dirty bool
}

func (c *CommitError) Error() string { return c.Err.Error() }

func (c *CommitError) Unwrap() error { return c.Err }
