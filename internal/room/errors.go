package room

import "errors"

var (
	ErrInvalidRequest  = errors.New("invalid request")
	ErrNotMember       = errors.New("not a room member")
	ErrMessageNotFound = errors.New("message not found")
)
