package anchor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/reliefops/incidenttrust/internal/hashchain"
	"go.uber.org/zap"
)

// HTTPClient commits roots to an external notarisation service over HTTP.
// The remote endpoint is expected to accept POST {base}/anchor with a JSON
// body {incident_id, root_hash} and respond with a Receipt.
type HTTPClient struct {
	base   string
	hc     *http.Client
	logger *zap.Logger
}

// NewHTTPClient creates an HTTPClient for the given service base URL.
// A zero timeout defaults to 10s.
func NewHTTPClient(baseURL string, timeout time.Duration, logger *zap.Logger) *HTTPClient {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		base:   strings.TrimRight(baseURL, "/"),
		hc:     &http.Client{Timeout: timeout},
		logger: logger,
	}
}

type anchorRequest struct {
	IncidentID string                `json:"incident_id"`
	RootHash   hashchain.Fingerprint `json:"root_hash"`
}

// Anchor implements Client.
func (c *HTTPClient) Anchor(ctx context.Context, incidentID string, root hashchain.Fingerprint) (*Receipt, error) {
	body, err := json.Marshal(anchorRequest{IncidentID: incidentID, RootHash: root})
	if err != nil {
		return nil, fmt.Errorf("marshal anchor request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/anchor", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build anchor request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("anchor call: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, fmt.Errorf("anchor service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var receipt Receipt
	if err := json.NewDecoder(resp.Body).Decode(&receipt); err != nil {
		return nil, fmt.Errorf("decode anchor receipt: %w", err)
	}
	if receipt.RootHash == "" {
		receipt.RootHash = root
	}
	if receipt.Timestamp.IsZero() {
		receipt.Timestamp = time.Now().UTC()
	}

	c.logger.Debug("anchored root",
		zap.String("incident_id", incidentID),
		zap.String("tx_hash", receipt.TxHash),
	)
	return &receipt, nil
}
