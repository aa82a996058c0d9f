package anchor

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/reliefops/incidenttrust/internal/hashchain"
	"go.uber.org/zap"
)

// simBlockInterval approximates the block cadence of the simulated chain.
const simBlockInterval = 12 * time.Second

// SimClient fabricates anchor receipts locally. The transaction hash is
// derived from the root and a per-client nonce; the block number is derived
// from the wall clock. No network calls are made.
type SimClient struct {
	nonce  atomic.Int64
	logger *zap.Logger
}

// NewSimClient creates a SimClient.
func NewSimClient(logger *zap.Logger) *SimClient {
	return &SimClient{logger: logger}
}

// Anchor implements Client.
func (c *SimClient) Anchor(_ context.Context, incidentID string, root hashchain.Fingerprint) (*Receipt, error) {
	now := time.Now().UTC()
	n := c.nonce.Add(1)

	tx := hashchain.Hash(fmt.Appendf(nil, "%s|%s|%d|%d", incidentID, root, now.UnixNano(), n))
	receipt := &Receipt{
		TxHash:      "0x" + string(tx),
		BlockNumber: now.Unix() / int64(simBlockInterval.Seconds()),
		RootHash:    root,
		Timestamp:   now,
	}

	c.logger.Debug("simulated anchor",
		zap.String("incident_id", incidentID),
		zap.String("tx_hash", receipt.TxHash),
		zap.Int64("block", receipt.BlockNumber),
	)
	return receipt, nil
}
