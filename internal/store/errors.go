package store

import "errors"

var (
	ErrUnknownLane    = errors.New("unknown lane")
	ErrTicketNotFound = errors.New("ticket not found")
	ErrTokenNotFound  = errors.New("access token not found")
	ErrInvalidState   = errors.New("invalid ticket state")
	ErrConflict       = errors.New("conditional update conflict")
	ErrNoTicket       = errors.New("no ticket available")
)
