// Package anchor defines the external commitment boundary of the audit
// ledger. An anchor is a timestamped third-party commitment to a timeline's
// Merkle root — evidence the ledger existed in a given state at a given time.
//
// Two implementations of the Client interface are provided:
//   - SimClient: fabricates receipts locally, for development and demos.
//   - HTTPClient: posts the root to an external notarisation service.
package anchor

import (
	"context"
	"time"

	"github.com/reliefops/incidenttrust/internal/hashchain"
)

// Receipt is the external commitment reference returned by an anchor call.
type Receipt struct {
	TxHash      string                `json:"tx_hash"`
	BlockNumber int64                 `json:"block_number"`
	RootHash    hashchain.Fingerprint `json:"root_hash"`
	Timestamp   time.Time             `json:"timestamp"`
}

// Client timestamps a root hash with an external commitment service.
// Calls may be slow or fail; callers must not hold ledger locks while waiting.
type Client interface {
	Anchor(ctx context.Context, incidentID string, root hashchain.Fingerprint) (*Receipt, error)
}
