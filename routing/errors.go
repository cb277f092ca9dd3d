package routing

import "errors"

var (
	// ErrChannelDisabled is returned for a pass on a disabled channel
	ErrChannelDisabled = errors.New("channel is disabled")
	// ErrUnknownChannel is returned for a pass on a channel that is not configured
	ErrUnknownChannel = errors.New("unknown channel")
)
