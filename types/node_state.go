package types

import "time"

// NodeState is a point-in-time view of a node's lifecycle flags.
type NodeState struct {
	Running         bool      `json:"running"`
	Validating      bool      `json:"validating"`
	Syncing         bool      `json:"syncing"`
	Degraded        bool      `json:"degraded"`
	LastBlockHeight int64     `json:"last_block_height"`
	LastUpdate      time.Time `json:"last_update"`
}
