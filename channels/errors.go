package channels

import "errors"

var (
	// ErrPublishInProgress is returned when Publish is called on an
	// AckChannel while another Publish on it has not finished.
	ErrPublishInProgress = errors.New("channels: publish already in progress")

	// ErrResponderExists is returned by ReplyToPrimingRequest when the
	// snapshot channel already has a responder.
	ErrResponderExists = errors.New("channels: priming responder already registered")

	// ErrCallbackPending is returned by SetCallbackOnReceive while an
	// earlier callback has not fired yet.
	ErrCallbackPending = errors.New("channels: reply callback already pending")

	// ErrReplyBoxDisposed is returned by SetCallbackOnReceive after the
	// reply box was disposed.
	ErrReplyBoxDisposed = errors.New("channels: reply box disposed")
)
