package wire

import "errors"

// Error kinds shared across every component. Call sites wrap these with
// fmt.Errorf("...: %w", wire.ErrX) so errors.Is keeps working up the stack.
var (
	ErrPoolExhausted   = errors.New("pool exhausted")
	ErrQueueFull       = errors.New("queue full")
	ErrQueueEmpty      = errors.New("queue empty")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	ErrIO              = errors.New("io error")
	ErrProtocol        = errors.New("protocol error")
	ErrUnrecoverableGap = errors.New("unrecoverable gap")
)
