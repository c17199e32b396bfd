package session

import "errors"

var (
	// ErrInvalidSessionType is returned when a secure session is not PASE or CASE.
	ErrInvalidSessionType = errors.New("session: invalid session type")

	// ErrInvalidKey is returned when an encryption key has invalid length.
	ErrInvalidKey = errors.New("session: invalid key length")

	// ErrInvalidSessionID is returned when a secure session id is 0.
	ErrInvalidSessionID = errors.New("session: invalid session ID")

	// ErrSessionMismatch is returned by Decode for frames addressed to another session.
	ErrSessionMismatch = errors.New("session: frame for another session")

	// ErrDecryptionFailed is returned when a frame fails authentication.
	// Only that frame is affected.
	ErrDecryptionFailed = errors.New("session: decryption failed")

	// ErrClosed is returned after Close or Detach.
	ErrClosed = errors.New("session: closed")
)
