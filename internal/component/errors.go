package component

import "errors"

// Sentinel error kinds that belong to component resolution.
var (
	ErrDuplicateComponent        = errors.New("component: duplicate component name")
	ErrMissingComponent          = errors.New("component: missing component")
	ErrUnregistered              = errors.New("component: unregistered component")
	ErrDisabled                  = errors.New("component: component disabled")
	ErrDependencyCycle           = errors.New("component: dependency cycle")
	ErrLoadCancelled             = errors.New("component: load cancelled")
	ErrLoadStalled               = errors.New("component: load stalled")
	ErrComponentConstructionFailed = errors.New("component: construction failed")
)
