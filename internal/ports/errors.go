package ports

import "errors"

// Standard application-level errors, grouped by the engine's error taxonomy.
// Adapters wrap underlying infrastructure errors with these standard errors.
var (
	// General
	ErrUnknown            = errors.New("unknown error occurred")
	ErrInvalidRequest     = errors.New("invalid request parameters or format")
	ErrNotFound           = errors.New("resource not found")
	ErrTimeout            = errors.New("operation timed out")
	ErrContextCanceled    = errors.New("operation canceled via context")
	ErrConfigurationError = errors.New("invalid or missing configuration")

	// Stream errors. Transient ones are recovered with backoff inside the
	// stream adapter; the connection-limit error is fatal for the engine
	// instance.
	ErrStreamTransient     = errors.New("transient stream failure")
	ErrStreamClosed        = errors.New("market data stream closed")
	ErrConnectionFailed    = errors.New("failed to connect to upstream")
	ErrConnectionLimit     = errors.New("upstream connection limit exceeded")
	ErrReconnectExhausted  = errors.New("reconnect attempts exhausted")
	ErrReconnectInProgress = errors.New("reconnect already in progress")

	// Broker errors. Rejects are non-fatal: the recommendation is marked and
	// the engine continues.
	ErrAuthenticationFailed = errors.New("broker authentication failed (check API keys)")
	ErrInvalidAPIKeys       = errors.New("invalid API keys or permissions")
	ErrRateLimited          = errors.New("API rate limit exceeded")
	ErrInsufficientFunds    = errors.New("insufficient funds for operation")
	ErrOrderRejected        = errors.New("order rejected by broker")
	ErrOrderNotFound        = errors.New("order not found at the broker")
	ErrPositionNotFound     = errors.New("position not found at the broker")

	// Risk errors (local validation, informational "no trade").
	ErrRiskRejected = errors.New("trade rejected by risk checks")

	// Data integrity. Offending events are dropped and counted; repeated
	// integrity failures on one symbol escalate to fatal for that symbol.
	ErrOutOfOrderBar = errors.New("bar open time earlier than buffer tail")
	ErrBadPrice      = errors.New("non-finite price in market data event")

	// Database
	ErrDBConnection = errors.New("database connection error")
	ErrQueryFailed  = errors.New("database query failed")
)
