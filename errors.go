package clubperm

import "errors"

// ErrConfig marks configuration-integrity failures. These are fatal at
// startup: the engine refuses to initialize rather than run with an
// ambiguous policy. Evaluation-time problems never surface as errors;
// they degrade to the most restrictive answer and are logged.
var ErrConfig = errors.New("clubperm: invalid configuration")

// ErrNotFound is returned by stores when a requested record is absent.
var ErrNotFound = errors.New("clubperm: not found")
