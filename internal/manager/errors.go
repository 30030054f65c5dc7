package manager

import "errors"

// ErrMissingDefaultProcessor is returned by New when config.DefaultTaskProcessor
// does not name a processor present in config.TaskProcessors — a fail-fast
// boot check grounded on userver's own
// "Cannot start components manager: missing default task processor".
var ErrMissingDefaultProcessor = errors.New("manager: missing default task processor")

// ErrAlreadyCleared is returned by Shutdown if called more than once.
var ErrAlreadyCleared = errors.New("manager: already shut down")
