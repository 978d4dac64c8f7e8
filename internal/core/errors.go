package core

import "errors"

var (
	// ErrInvalidRange indicates malformed grid geometry at construction time.
	ErrInvalidRange = errors.New("invalid grid range")
	// ErrInvalidPrice indicates a non-positive or unparsable price observation.
	ErrInvalidPrice = errors.New("invalid price")
	// ErrLevelNotPending indicates a fill was recorded against a level that
	// holds no open order. This is an internal consistency breach, not an
	// operational condition.
	ErrLevelNotPending = errors.New("level has no pending order")
	// ErrEngineStopped indicates the engine is in a terminal state and rejects
	// further observations.
	ErrEngineStopped = errors.New("engine stopped")
)
