package exchange

import "errors"

// Errors returned by the exchange package.
var (
	// ErrExchangeClosed is returned when attempting operations on a closed exchange.
	ErrExchangeClosed = errors.New("exchange: exchange is closed")

	// ErrDuplicateMessage marks a frame whose counter is not newer than the
	// last one received. It is logged and never surfaced to callers.
	ErrDuplicateMessage = errors.New("exchange: duplicate message")

	// ErrExchangeMismatch marks a frame that belongs to another exchange.
	ErrExchangeMismatch = errors.New("exchange: frame for another exchange")
)
