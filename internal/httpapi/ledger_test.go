package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/reliefops/incidenttrust/internal/anchor"
	"github.com/reliefops/incidenttrust/internal/ledger"
	"github.com/reliefops/incidenttrust/internal/signer"
	"go.uber.org/zap"
)

func setupLedgerRouter(t *testing.T) (*gin.Engine, *ledger.Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	svc := ledger.NewService(ledger.NewMemoryStore(), signer.NewKeyring(), zap.NewNop())
	svc.SetAnchorClient(anchor.NewSimClient(zap.NewNop()))

	router := gin.New()
	v1 := router.Group("/api/v1")
	NewLedgerHandler(svc, zap.NewNop()).Register(v1, v1)
	return router, svc
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestAppendEvent_http(t *testing.T) {
	router, _ := setupLedgerRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/v1/incidents/INC-1/events", gin.H{
		"actor":   "alice",
		"action":  "EVIDENCE_UPLOADED",
		"details": "photo.jpg",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var event map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &event); err != nil {
		t.Fatal(err)
	}
	if event["actor"] != "alice" || event["signature"] == "" {
		t.Errorf("unexpected event payload: %v", event)
	}
}

func TestAppendEvent_missingAction(t *testing.T) {
	router, _ := setupLedgerRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/v1/incidents/INC-1/events", gin.H{
		"actor": "alice",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestVerify_http(t *testing.T) {
	router, _ := setupLedgerRouter(t)
	doJSON(t, router, http.MethodPost, "/api/v1/incidents/INC-1/events", gin.H{
		"actor": "alice", "action": "INCIDENT_OPENED",
	})

	w := doJSON(t, router, http.MethodGet, "/api/v1/incidents/INC-1/verify", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp struct {
		Valid bool `json:"valid"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Valid {
		t.Error("clean timeline reported invalid")
	}

	// Unknown incident is still a 200, just invalid.
	w = doJSON(t, router, http.MethodGet, "/api/v1/incidents/NOPE/verify", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Valid {
		t.Error("unknown incident reported valid")
	}
}

func TestExport_http(t *testing.T) {
	router, _ := setupLedgerRouter(t)
	doJSON(t, router, http.MethodPost, "/api/v1/incidents/INC-1/events", gin.H{
		"actor": "alice", "action": "INCIDENT_OPENED",
	})
	doJSON(t, router, http.MethodPost, "/api/v1/incidents/INC-1/events", gin.H{
		"actor": "bob", "action": "EVIDENCE_UPLOADED", "details": "x.jpg",
	})

	w := doJSON(t, router, http.MethodGet, "/api/v1/incidents/INC-1/export", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if cd := w.Header().Get("Content-Disposition"); cd == "" {
		t.Error("export response has no Content-Disposition header")
	}

	var report struct {
		EventCount int    `json:"event_count"`
		Valid      bool   `json:"valid"`
		RootHash   string `json:"root_hash"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &report); err != nil {
		t.Fatal(err)
	}
	if report.EventCount != 2 || !report.Valid || report.RootHash == "" {
		t.Errorf("report: %+v", report)
	}
}

func TestExport_unknownIncident_http(t *testing.T) {
	router, _ := setupLedgerRouter(t)
	w := doJSON(t, router, http.MethodGet, "/api/v1/incidents/NOPE/export", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestAnchor_http(t *testing.T) {
	router, _ := setupLedgerRouter(t)
	doJSON(t, router, http.MethodPost, "/api/v1/incidents/INC-1/events", gin.H{
		"actor": "alice", "action": "INCIDENT_OPENED",
	})

	w := doJSON(t, router, http.MethodPost, "/api/v1/incidents/INC-1/anchor", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var receipt struct {
		TxHash string `json:"tx_hash"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &receipt); err != nil {
		t.Fatal(err)
	}
	if receipt.TxHash == "" {
		t.Error("receipt has no tx hash")
	}
}

func TestListEvents_filters_http(t *testing.T) {
	router, _ := setupLedgerRouter(t)
	doJSON(t, router, http.MethodPost, "/api/v1/incidents/INC-1/events", gin.H{
		"actor": "alice", "action": "INCIDENT_OPENED",
	})
	doJSON(t, router, http.MethodPost, "/api/v1/incidents/INC-1/events", gin.H{
		"actor": "bob", "action": "EVIDENCE_UPLOADED",
	})

	w := doJSON(t, router, http.MethodGet, "/api/v1/incidents/INC-1/events?actor=alice", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp struct {
		Events []map[string]any `json:"events"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Events) != 1 {
		t.Errorf("alice events: got %d, want 1", len(resp.Events))
	}

	w = doJSON(t, router, http.MethodGet, "/api/v1/incidents/INC-1/events?start=bogus", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad timestamp: expected 400, got %d", w.Code)
	}
}

func TestInitIncident_http(t *testing.T) {
	router, _ := setupLedgerRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/v1/incidents", gin.H{"incident_id": "INC-9"})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, router, http.MethodGet, "/api/v1/incidents", nil)
	var resp struct {
		Incidents []string `json:"incidents"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Incidents) != 1 || resp.Incidents[0] != "INC-9" {
		t.Errorf("incidents: %v", resp.Incidents)
	}
}
