package worldstate

import "errors"

// Domain error taxonomy, spec §7 "WorldState".
var (
	ErrObjectNotFound  = errors.New("worldstate: object not found")
	ErrVerbNotFound    = errors.New("worldstate: verb not found")
	ErrPropertyNotFound = errors.New("worldstate: property not found")
	ErrPermissionDenied = errors.New("worldstate: permission denied")
	ErrRecursiveMove    = errors.New("worldstate: recursive move")
	ErrAlreadyExists    = errors.New("worldstate: already exists")
)
