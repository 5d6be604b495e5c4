package tunneling

import "errors"

// Errors reported by tunnels.
var (
	ErrUnknownURI          = errors.New("no uri known for recipient")
	ErrIncompatibleVersion = errors.New("incompatible tunnel version")
	ErrForeignPeer         = errors.New("peer is not an agency tunnel")
	ErrNoFreePort          = errors.New("no free port in range")
	ErrNotConnected        = errors.New("tunnel not connected")
)
