package signalx

import (
	"context"
	"os"
	"os/signal"
)

var registered = make(chan struct{})

// Handler registers for the termination signals,
// and returns a context derived from the given parent.
//
// The first signal cancels the context with a cause naming the signal,
// the second one exits the process with status 1.
// Handler panics if called twice.
func Handler(parent context.Context) context.Context {
	close(registered)

	ctx, cancel := context.WithCancelCause(parent)

	sigChan := make(chan os.Signal, len(sigs))
	signal.Notify(sigChan, sigs...)

	go func() {
		var canceled bool
		for sig := range sigChan {
			if canceled {
				os.Exit(1)
			}
			cancel(&SignalError{Signal: sig})
			canceled = true
		}
	}()

	return ctx
}

// SignalError is the cancellation cause of the context returned by Handler.
type SignalError struct {
	Signal os.Signal
}

func (e *SignalError) Error() string {
	return "received signal: " + e.Signal.String()
}
