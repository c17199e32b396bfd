package fabric

import "errors"

var (
	ErrFabricNotFound       = errors.New("fabric: not found")
	ErrInvalidName          = errors.New("fabric: name must not be empty")
	ErrInvalidFabricID      = errors.New("fabric: invalid fabric id")
	ErrInvalidNodeID        = errors.New("fabric: node id outside the operational range")
	ErrNodeExists           = errors.New("fabric: node already commissioned")
	ErrInvalidRootPublicKey = errors.New("fabric: invalid root public key")
	ErrStoreClosed          = errors.New("fabric: store closed")
)
