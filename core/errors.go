package core

import "errors"

var (
	// ErrNotConfigured is returned by operations that cannot proceed without
	// provider settings. Session operations on the controller log and no-op
	// instead; this sentinel is for callers that build URLs directly.
	ErrNotConfigured = errors.New("authcore: not configured")

	// ErrExchangeInFlight reports a callback delivered while a code exchange
	// is already running. Duplicate deliveries happen on mobile intents and
	// must not trigger a second token-endpoint request.
	ErrExchangeInFlight = errors.New("authcore: code exchange already in flight")

	// ErrSessionReset reports that an exchange completed after the session
	// was logged out or the controller closed; its result was discarded.
	ErrSessionReset = errors.New("authcore: session reset during exchange")
)
