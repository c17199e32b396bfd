package discovery

import "errors"

var (
	ErrClosed               = errors.New("discovery: closed")
	ErrAlreadyStarted       = errors.New("discovery: already advertising")
	ErrInvalidDiscriminator = errors.New("discovery: discriminator must be 0-4095")
	ErrInvalidDeviceName    = errors.New("discovery: device name longer than 32 characters")
	ErrInvalidPort          = errors.New("discovery: port must be 1-65535")
	ErrNoAddresses          = errors.New("discovery: no addresses")
	ErrInvalidInstanceName  = errors.New("discovery: empty instance name")
	ErrNodeNotFound         = errors.New("discovery: no commissionable node found")
	ErrInvalidTXTRecord     = errors.New("discovery: invalid TXT record")
)
