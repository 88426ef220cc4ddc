package crawler

import "errors"

// Error taxonomy surfaced by the frontier and its components.
var (
	// ErrInvalidEntry rejects malformed submissions synchronously.
	ErrInvalidEntry = errors.New("invalid entry")
	// ErrDuplicate reports a URL already in the seen-set.
	ErrDuplicate = errors.New("duplicate url")
	// ErrRobotsDisallowed is a policy rejection; it is recorded, never retried.
	ErrRobotsDisallowed = errors.New("robots disallowed")
	// ErrTransientFetch marks a failure the retry classifier will retry.
	ErrTransientFetch = errors.New("transient fetch failure")
	// ErrTerminalFetch marks a failure that is dead-lettered immediately.
	ErrTerminalFetch = errors.New("terminal fetch failure")
	// ErrAntiBotExhausted is returned once the escalation ladder is spent.
	ErrAntiBotExhausted = errors.New("anti-bot exhausted")
	// ErrLeaseExpired is the internal signal that requeues abandoned work.
	ErrLeaseExpired = errors.New("worker lease expired")
	// ErrFrontierUnavailable is a retryable system-level failure.
	ErrFrontierUnavailable = errors.New("frontier unavailable")
	// ErrRedirectsExhausted is returned by fetchers that stop following redirects.
	ErrRedirectsExhausted = errors.New("redirects exhausted")
	// ErrNotFound is returned by stores for missing objects.
	ErrNotFound = errors.New("not found")
)
