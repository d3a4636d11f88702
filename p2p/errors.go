package p2p

import (
	"errors"
	"fmt"

	"segchain/types"
)

var (
	ErrTransportClosed = errors.New("transport closed")
	ErrUnknownPeer     = errors.New("unknown peer")
	ErrPeerLimit       = errors.New("peer limit reached")
	ErrSelfConnect     = errors.New("refusing to connect to self")
	ErrDialInProgress  = errors.New("handshake with address already in progress")
)

// ErrMessageTooLarge is returned for frames above the configured maximum,
// before decoding on receive and after encoding on send.
type ErrMessageTooLarge struct {
	Size int
	Max  int
}

func (e ErrMessageTooLarge) Error() string {
	return fmt.Sprintf("message of %d bytes exceeds max of %d", e.Size, e.Max)
}

func (e ErrMessageTooLarge) Is(target error) bool {
	return target == types.ErrCapacity
}

// ErrVersionMismatch is returned when a handshake carries another protocol version.
type ErrVersionMismatch struct {
	Ours   int
	Theirs int
}

func (e ErrVersionMismatch) Error() string {
	return fmt.Sprintf("protocol version mismatch: ours %d, theirs %d", e.Ours, e.Theirs)
}

func (e ErrVersionMismatch) Is(target error) bool {
	return target == types.ErrNetwork
}
