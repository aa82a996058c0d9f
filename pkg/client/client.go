// Package client provides the Go SDK for the incident trust service: append
// and query audit events, verify and export timelines, and drive the
// multi-signature proposal workflow.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// AuditEvent is one signed entry on an incident timeline.
type AuditEvent struct {
	ID         string    `json:"id"`
	IncidentID string    `json:"incident_id"`
	Timestamp  time.Time `json:"timestamp"`
	Actor      string    `json:"actor"`
	Action     string    `json:"action"`
	Details    string    `json:"details"`
	Signature  string    `json:"signature"`
	Verified   bool      `json:"verified"`
}

// Timeline is the per-incident ledger state.
type Timeline struct {
	IncidentID       string       `json:"incident_id"`
	Events           []AuditEvent `json:"events"`
	RootHash         string       `json:"root_hash"`
	LastAnchorTxHash string       `json:"last_anchor_tx_hash,omitempty"`
	LastAnchorBlock  int64        `json:"last_anchor_block,omitempty"`
	AnchoredAt       *time.Time   `json:"anchored_at,omitempty"`
}

// Report is the exportable audit artifact for one incident.
type Report struct {
	IncidentID       string       `json:"incident_id"`
	EventCount       int          `json:"event_count"`
	RootHash         string       `json:"root_hash"`
	Valid            bool         `json:"valid"`
	Events           []AuditEvent `json:"events"`
	LastAnchorTxHash string       `json:"last_anchor_tx_hash,omitempty"`
	LastAnchorBlock  int64        `json:"last_anchor_block,omitempty"`
	AnchoredAt       *time.Time   `json:"anchored_at,omitempty"`
	GeneratedAt      time.Time    `json:"generated_at"`
}

// AnchorReceipt is the commitment receipt returned by an anchor call.
type AnchorReceipt struct {
	TxHash      string    `json:"tx_hash"`
	BlockNumber int64     `json:"block_number"`
	RootHash    string    `json:"root_hash"`
	Timestamp   time.Time `json:"timestamp"`
}

// SignerEntry records one actor's signature on a proposal.
type SignerEntry struct {
	Actor     string    `json:"actor"`
	SignedAt  time.Time `json:"signed_at"`
	Signature string    `json:"signature"`
}

// Proposal is a pending or resolved critical-action request.
type Proposal struct {
	ID             string        `json:"id"`
	IncidentID     string        `json:"incident_id,omitempty"`
	Type           string        `json:"type"`
	Amount         string        `json:"amount,omitempty"`
	Currency       string        `json:"currency,omitempty"`
	Description    string        `json:"description"`
	ProposedBy     string        `json:"proposed_by"`
	ProposedAt     time.Time     `json:"proposed_at"`
	Signatures     int           `json:"signatures"`
	Required       int           `json:"required"`
	Status         string        `json:"status"`
	Signers        []SignerEntry `json:"signers"`
	ExecutedAt     *time.Time    `json:"executed_at,omitempty"`
	ExecutionHash  string        `json:"execution_hash,omitempty"`
	CriticalAction bool          `json:"critical_action"`
	RejectedBy     string        `json:"rejected_by,omitempty"`
	RejectReason   string        `json:"reject_reason,omitempty"`
	RejectedAt     *time.Time    `json:"rejected_at,omitempty"`
}

// ProposeRequest is the payload for Propose.
type ProposeRequest struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	ProposedBy  string `json:"proposed_by,omitempty"`
	Amount      string `json:"amount,omitempty"`
	Currency    string `json:"currency,omitempty"`
	IncidentID  string `json:"incident_id,omitempty"`
	Required    int    `json:"required,omitempty"`
}

// Operator is a registered responder account.
type Operator struct {
	ID     string `json:"id"`
	Email  string `json:"email"`
	Handle string `json:"handle"`
	Role   string `json:"role"`
}

// APIError is returned when the service responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

// Client is the incident trust SDK entry point.
type Client struct {
	base       string
	httpClient *http.Client

	mu          sync.Mutex
	bearerToken string
}

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithBearerToken attaches a pre-obtained session token to every request.
func WithBearerToken(token string) Option {
	return func(c *Client) { c.bearerToken = token }
}

// WithTimeout sets the request timeout on the default http.Client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// Token returns the current session token and whether one is set. Callers
// can persist it and restore the session later with WithBearerToken.
func (c *Client) Token() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bearerToken, c.bearerToken != ""
}

// New creates a Client connected to base, e.g. "http://localhost:8080".
func New(base string, opts ...Option) *Client {
	c := &Client{
		base:       base,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Login authenticates with email/password and stores the returned session
// token for subsequent requests.
func (c *Client) Login(ctx context.Context, email, password string) (*Operator, error) {
	var resp struct {
		Operator *Operator `json:"operator"`
		Token    string    `json:"token"`
	}
	err := c.do(ctx, http.MethodPost, "/api/v1/auth/login", map[string]string{
		"email": email, "password": password,
	}, &resp)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.bearerToken = resp.Token
	c.mu.Unlock()
	return resp.Operator, nil
}

// Register creates an operator account and stores the returned session token.
func (c *Client) Register(ctx context.Context, email, password, handle, role string) (*Operator, error) {
	var resp struct {
		Operator *Operator `json:"operator"`
		Token    string    `json:"token"`
	}
	err := c.do(ctx, http.MethodPost, "/api/v1/auth/register", map[string]string{
		"email": email, "password": password, "handle": handle, "role": role,
	}, &resp)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.bearerToken = resp.Token
	c.mu.Unlock()
	return resp.Operator, nil
}

// InitIncident explicitly creates an incident timeline.
func (c *Client) InitIncident(ctx context.Context, incidentID string) (*Timeline, error) {
	var tl Timeline
	err := c.do(ctx, http.MethodPost, "/api/v1/incidents", map[string]string{
		"incident_id": incidentID,
	}, &tl)
	if err != nil {
		return nil, err
	}
	return &tl, nil
}

// AppendEvent records a new audit event on the incident's timeline. The
// acting operator comes from the session token.
func (c *Client) AppendEvent(ctx context.Context, incidentID, action, details string) (*AuditEvent, error) {
	var event AuditEvent
	err := c.do(ctx, http.MethodPost, "/api/v1/incidents/"+url.PathEscape(incidentID)+"/events", map[string]string{
		"action": action, "details": details,
	}, &event)
	if err != nil {
		return nil, err
	}
	return &event, nil
}

// Events returns the incident's events, optionally filtered by actor.
func (c *Client) Events(ctx context.Context, incidentID, actor string) ([]AuditEvent, error) {
	path := "/api/v1/incidents/" + url.PathEscape(incidentID) + "/events"
	if actor != "" {
		path += "?actor=" + url.QueryEscape(actor)
	}
	var resp struct {
		Events []AuditEvent `json:"events"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Events, nil
}

// Timeline returns the incident's full timeline.
func (c *Client) Timeline(ctx context.Context, incidentID string) (*Timeline, error) {
	var tl Timeline
	if err := c.do(ctx, http.MethodGet, "/api/v1/incidents/"+url.PathEscape(incidentID), nil, &tl); err != nil {
		return nil, err
	}
	return &tl, nil
}

// Verify asks the service to recompute the incident's Merkle root and
// reports whether the timeline is intact.
func (c *Client) Verify(ctx context.Context, incidentID string) (bool, error) {
	var resp struct {
		Valid bool `json:"valid"`
	}
	err := c.do(ctx, http.MethodGet, "/api/v1/incidents/"+url.PathEscape(incidentID)+"/verify", nil, &resp)
	if err != nil {
		return false, err
	}
	return resp.Valid, nil
}

// Export downloads the incident's audit report.
func (c *Client) Export(ctx context.Context, incidentID string) (*Report, error) {
	var r Report
	if err := c.do(ctx, http.MethodGet, "/api/v1/incidents/"+url.PathEscape(incidentID)+"/export", nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Anchor commits the incident's current root to the configured external
// anchor and returns the receipt.
func (c *Client) Anchor(ctx context.Context, incidentID string) (*AnchorReceipt, error) {
	var r AnchorReceipt
	if err := c.do(ctx, http.MethodPost, "/api/v1/incidents/"+url.PathEscape(incidentID)+"/anchor", nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Propose creates a new proposal.
func (c *Client) Propose(ctx context.Context, req ProposeRequest) (*Proposal, error) {
	var p Proposal
	if err := c.do(ctx, http.MethodPost, "/api/v1/proposals", req, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// SignProposal records the operator's signature on a proposal.
func (c *Client) SignProposal(ctx context.Context, proposalID string) (*Proposal, error) {
	var p Proposal
	err := c.do(ctx, http.MethodPost, "/api/v1/proposals/"+url.PathEscape(proposalID)+"/sign", map[string]string{}, &p)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// RejectProposal closes a pending proposal with a reason.
func (c *Client) RejectProposal(ctx context.Context, proposalID, reason string) (*Proposal, error) {
	var p Proposal
	err := c.do(ctx, http.MethodPost, "/api/v1/proposals/"+url.PathEscape(proposalID)+"/reject", map[string]string{
		"reason": reason,
	}, &p)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetProposal returns a proposal by id.
func (c *Client) GetProposal(ctx context.Context, proposalID string) (*Proposal, error) {
	var p Proposal
	if err := c.do(ctx, http.MethodGet, "/api/v1/proposals/"+url.PathEscape(proposalID), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ListProposals returns proposals, optionally filtered by incident and status.
func (c *Client) ListProposals(ctx context.Context, incidentID, status string) ([]Proposal, error) {
	q := url.Values{}
	if incidentID != "" {
		q.Set("incident_id", incidentID)
	}
	if status != "" {
		q.Set("status", status)
	}
	path := "/api/v1/proposals"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var resp struct {
		Proposals []Proposal `json:"proposals"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Proposals, nil
}

// do issues one JSON request and decodes the response into out (if non-nil).
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.mu.Lock()
	if c.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	}
	c.mu.Unlock()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<22))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Error string `json:"error"`
		}
		msg := string(raw)
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			msg = apiErr.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
