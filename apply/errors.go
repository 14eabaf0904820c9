package apply

import "errors"

// ErrStopped is returned by PushAppendCallback once Stop has been called;
// lifecycle=Stopping must never accept a new append enqueue (spec invariant).
var ErrStopped = errors.New("apply: status stopped")

// ErrNotFound is returned by Service.GetApplyStatus when no status has been
// registered for the given stream.
var ErrNotFound = errors.New("apply: status not found")
