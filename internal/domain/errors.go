package domain

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrUnknownProduct     = errors.New("unknown product")
	ErrInvalidPrice       = errors.New("invalid price")
	ErrInvalidSimulation  = errors.New("invalid simulation parameters")
	ErrSimulationNotFound = errors.New("simulation not found")
	ErrNotImplemented     = errors.New("not implemented")
	ErrUnknownScenario    = errors.New("unknown scenario")
	ErrConnectionClosed   = errors.New("connection closed")
	ErrSendBufferFull     = errors.New("send buffer full")
	ErrLockHeld           = errors.New("lock held")
)
