package multisig_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/reliefops/incidenttrust/internal/multisig"
	"github.com/reliefops/incidenttrust/internal/signer"
	"go.uber.org/zap"
)

var ctx = context.Background()

func newRegistry() *multisig.Registry {
	return multisig.NewRegistry(multisig.NewMemoryStore(), signer.NewKeyring(), zap.NewNop())
}

func propose(t *testing.T, r *multisig.Registry, req multisig.ProposeRequest) *multisig.Proposal {
	t.Helper()
	p, err := r.Propose(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestPropose_proposerIsFirstSigner(t *testing.T) {
	r := newRegistry()
	p := propose(t, r, multisig.ProposeRequest{
		Type:        multisig.TypeFundRelease,
		Description: "release emergency funds",
		ProposedBy:  "alice",
		Amount:      "5000",
		Currency:    "USD",
	})

	if p.Status != multisig.StatusPending {
		t.Errorf("status: got %s, want pending", p.Status)
	}
	if p.Signatures != 1 || len(p.Signers) != 1 {
		t.Fatalf("signatures: got %d/%d, want 1/1", p.Signatures, len(p.Signers))
	}
	if p.Signers[0].Actor != "alice" || p.Signers[0].Signature == "" {
		t.Errorf("first signer: got %+v, want signed entry for alice", p.Signers[0])
	}
	if p.Required != multisig.DefaultRequiredSignatures {
		t.Errorf("required: got %d, want %d", p.Required, multisig.DefaultRequiredSignatures)
	}
	if p.CriticalAction {
		t.Error("proposal without incident marked as critical action")
	}
}

func TestPropose_validation(t *testing.T) {
	r := newRegistry()

	var verr *multisig.ErrValidation
	if _, err := r.Propose(ctx, multisig.ProposeRequest{Type: "bogus", Description: "x", ProposedBy: "alice"}); !errors.As(err, &verr) {
		t.Errorf("unknown type: got %v, want ErrValidation", err)
	}
	if _, err := r.Propose(ctx, multisig.ProposeRequest{Type: multisig.TypeLockdown, Description: "x"}); !errors.As(err, &verr) {
		t.Errorf("missing proposer: got %v, want ErrValidation", err)
	}
	if _, err := r.Propose(ctx, multisig.ProposeRequest{Type: multisig.TypeLockdown, ProposedBy: "alice"}); !errors.As(err, &verr) {
		t.Errorf("missing description: got %v, want ErrValidation", err)
	}
	if _, err := r.ProposeCriticalAction(ctx, multisig.ProposeRequest{Type: multisig.TypeLockdown, Description: "x", ProposedBy: "alice"}); !errors.As(err, &verr) {
		t.Errorf("critical action without incident: got %v, want ErrValidation", err)
	}
}

func TestSign_thresholdFlipsToApproved(t *testing.T) {
	r := newRegistry()
	p := propose(t, r, multisig.ProposeRequest{
		Type:        multisig.TypeFundRelease,
		Description: "release funds",
		ProposedBy:  "alice",
	})

	p, err := r.Sign(ctx, p.ID, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if p.Status != multisig.StatusPending || p.Signatures != 2 {
		t.Fatalf("after second signature: status %s, count %d", p.Status, p.Signatures)
	}
	if p.ExecutedAt != nil {
		t.Error("ExecutedAt stamped before threshold")
	}

	p, err = r.Sign(ctx, p.ID, "carol")
	if err != nil {
		t.Fatal(err)
	}
	if p.Status != multisig.StatusApproved {
		t.Errorf("status after threshold: got %s, want approved", p.Status)
	}
	if p.Signatures != 3 {
		t.Errorf("signatures: got %d, want 3", p.Signatures)
	}
	if p.ExecutedAt == nil {
		t.Error("ExecutedAt not stamped on approval")
	}
	if !strings.HasPrefix(p.ExecutionHash, "0x") {
		t.Errorf("execution hash %q missing 0x prefix", p.ExecutionHash)
	}
}

func TestSign_customThreshold(t *testing.T) {
	r := newRegistry()
	r.SetRequiredSignatures(2)

	p := propose(t, r, multisig.ProposeRequest{
		Type:        multisig.TypeEvacuation,
		Description: "evacuate sector 4",
		ProposedBy:  "alice",
	})
	p, err := r.Sign(ctx, p.ID, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if p.Status != multisig.StatusApproved {
		t.Errorf("2-of-2: got %s, want approved", p.Status)
	}
}

func TestSign_singleSignerThreshold(t *testing.T) {
	r := newRegistry()
	r.SetRequiredSignatures(1)
	rec := &recordingRecorder{}
	r.SetRecorder(rec)

	p := propose(t, r, multisig.ProposeRequest{
		Type:        multisig.TypeLockdown,
		Description: "lock down HQ",
		ProposedBy:  "alice",
		IncidentID:  "INC-1",
	})
	if p.Status != multisig.StatusApproved {
		t.Errorf("1-of-1 proposal should approve on creation: got %s", p.Status)
	}
	if p.ExecutedAt == nil {
		t.Error("ExecutedAt not stamped on creation-time approval")
	}
	if !strings.HasPrefix(p.ExecutionHash, "0x") {
		t.Errorf("execution hash %q missing 0x prefix", p.ExecutionHash)
	}
	if want := []string{"alice:true"}; len(rec.signed) != 1 || rec.signed[0] != want[0] {
		t.Errorf("approval callback: got %v, want %v", rec.signed, want)
	}

	// Approved is terminal even when reached at creation.
	if _, err := r.Sign(ctx, p.ID, "bob"); !errors.Is(err, multisig.ErrNotPending) {
		t.Errorf("sign after creation-time approval: got %v, want ErrNotPending", err)
	}

	// The stored copy carries the approved state, not a stale Pending row.
	got, err := r.Get(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != multisig.StatusApproved || got.ExecutionHash != p.ExecutionHash {
		t.Errorf("stored proposal: status %s, hash %q", got.Status, got.ExecutionHash)
	}
}

func TestSign_duplicateSigner(t *testing.T) {
	r := newRegistry()
	p := propose(t, r, multisig.ProposeRequest{
		Type:        multisig.TypeTransaction,
		Description: "wire transfer",
		ProposedBy:  "alice",
	})

	if _, err := r.Sign(ctx, p.ID, "alice"); !errors.Is(err, multisig.ErrAlreadySigned) {
		t.Errorf("proposer re-sign: got %v, want ErrAlreadySigned", err)
	}
	if _, err := r.Sign(ctx, p.ID, "bob"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Sign(ctx, p.ID, "bob"); !errors.Is(err, multisig.ErrAlreadySigned) {
		t.Errorf("repeat signer: got %v, want ErrAlreadySigned", err)
	}

	got, _ := r.Get(ctx, p.ID)
	if got.Signatures != 2 {
		t.Errorf("duplicate attempt changed count: got %d, want 2", got.Signatures)
	}
}

func TestSign_terminalStatesAreImmutable(t *testing.T) {
	r := newRegistry()
	r.SetRequiredSignatures(2)

	approved := propose(t, r, multisig.ProposeRequest{
		Type:        multisig.TypeFundRelease,
		Description: "funds",
		ProposedBy:  "alice",
	})
	if _, err := r.Sign(ctx, approved.ID, "bob"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Sign(ctx, approved.ID, "carol"); !errors.Is(err, multisig.ErrNotPending) {
		t.Errorf("sign after approval: got %v, want ErrNotPending", err)
	}
	if _, err := r.Reject(ctx, approved.ID, "carol", "too late"); !errors.Is(err, multisig.ErrNotPending) {
		t.Errorf("reject after approval: got %v, want ErrNotPending", err)
	}

	rejected := propose(t, r, multisig.ProposeRequest{
		Type:        multisig.TypeLockdown,
		Description: "lockdown",
		ProposedBy:  "alice",
	})
	if _, err := r.Reject(ctx, rejected.ID, "bob", "not warranted"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Sign(ctx, rejected.ID, "carol"); !errors.Is(err, multisig.ErrNotPending) {
		t.Errorf("sign after rejection: got %v, want ErrNotPending", err)
	}
	if _, err := r.Reject(ctx, rejected.ID, "carol", "again"); !errors.Is(err, multisig.ErrNotPending) {
		t.Errorf("double rejection: got %v, want ErrNotPending", err)
	}
}

func TestReject_recordsWhoAndWhy(t *testing.T) {
	r := newRegistry()
	p := propose(t, r, multisig.ProposeRequest{
		Type:        multisig.TypeEvacuation,
		Description: "evacuate",
		ProposedBy:  "alice",
	})

	p, err := r.Reject(ctx, p.ID, "bob", "risk assessment says no")
	if err != nil {
		t.Fatal(err)
	}
	if p.Status != multisig.StatusRejected {
		t.Errorf("status: got %s, want rejected", p.Status)
	}
	if p.RejectedBy != "bob" || p.RejectReason != "risk assessment says no" {
		t.Errorf("rejection record: %q / %q", p.RejectedBy, p.RejectReason)
	}
	if p.RejectedAt == nil {
		t.Error("RejectedAt not stamped")
	}
}

func TestSignAndReject_unknownProposal(t *testing.T) {
	r := newRegistry()
	id := uuid.New()
	if _, err := r.Sign(ctx, id, "alice"); !errors.Is(err, multisig.ErrNotFound) {
		t.Errorf("sign: got %v, want ErrNotFound", err)
	}
	if _, err := r.Reject(ctx, id, "alice", "x"); !errors.Is(err, multisig.ErrNotFound) {
		t.Errorf("reject: got %v, want ErrNotFound", err)
	}
	if _, err := r.Get(ctx, id); !errors.Is(err, multisig.ErrNotFound) {
		t.Errorf("get: got %v, want ErrNotFound", err)
	}
}

func TestList_filters(t *testing.T) {
	r := newRegistry()
	propose(t, r, multisig.ProposeRequest{Type: multisig.TypeFundRelease, Description: "a", ProposedBy: "alice", IncidentID: "INC-1"})
	propose(t, r, multisig.ProposeRequest{Type: multisig.TypeLockdown, Description: "b", ProposedBy: "bob"})
	rejectMe := propose(t, r, multisig.ProposeRequest{Type: multisig.TypeEvacuation, Description: "c", ProposedBy: "carol", IncidentID: "INC-2"})
	if _, err := r.Reject(ctx, rejectMe.ID, "dave", "no"); err != nil {
		t.Fatal(err)
	}

	all, err := r.List(ctx, multisig.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("all: got %d, want 3", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].ProposedAt.Before(all[i-1].ProposedAt) {
			t.Error("list not ordered by proposal time")
		}
	}

	pending, _ := r.ListPending(ctx)
	if len(pending) != 2 {
		t.Errorf("pending: got %d, want 2", len(pending))
	}
	byIncident, _ := r.ListByIncident(ctx, "INC-1")
	if len(byIncident) != 1 || byIncident[0].IncidentID != "INC-1" {
		t.Errorf("by incident: got %d", len(byIncident))
	}
	critical, _ := r.ListCritical(ctx)
	if len(critical) != 2 {
		t.Errorf("critical: got %d, want 2", len(critical))
	}
}

// recordingRecorder captures lifecycle callbacks for assertion.
type recordingRecorder struct {
	mu       sync.Mutex
	created  []uuid.UUID
	signed   []string // "actor:approved"
	rejected []uuid.UUID
	fail     bool
}

func (r *recordingRecorder) ProposalCreated(_ context.Context, p *multisig.Proposal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("recorder down")
	}
	r.created = append(r.created, p.ID)
	return nil
}

func (r *recordingRecorder) ProposalSigned(_ context.Context, _ *multisig.Proposal, actor string, approved bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("recorder down")
	}
	r.signed = append(r.signed, fmt.Sprintf("%s:%t", actor, approved))
	return nil
}

func (r *recordingRecorder) ProposalRejected(_ context.Context, p *multisig.Proposal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("recorder down")
	}
	r.rejected = append(r.rejected, p.ID)
	return nil
}

func TestRecorder_criticalProposalsOnly(t *testing.T) {
	r := newRegistry()
	rec := &recordingRecorder{}
	r.SetRecorder(rec)

	critical := propose(t, r, multisig.ProposeRequest{
		Type: multisig.TypeFundRelease, Description: "funds", ProposedBy: "alice", IncidentID: "INC-1",
	})
	plain := propose(t, r, multisig.ProposeRequest{
		Type: multisig.TypeTransaction, Description: "transfer", ProposedBy: "alice",
	})

	if len(rec.created) != 1 || rec.created[0] != critical.ID {
		t.Fatalf("created callbacks: %v", rec.created)
	}

	if _, err := r.Sign(ctx, critical.ID, "bob"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Sign(ctx, critical.ID, "carol"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Sign(ctx, plain.ID, "bob"); err != nil {
		t.Fatal(err)
	}

	want := []string{"bob:false", "carol:true"}
	if len(rec.signed) != len(want) {
		t.Fatalf("signed callbacks: %v, want %v", rec.signed, want)
	}
	for i := range want {
		if rec.signed[i] != want[i] {
			t.Errorf("signed[%d]: got %s, want %s", i, rec.signed[i], want[i])
		}
	}
}

func TestRecorder_failureIsNonFatal(t *testing.T) {
	r := newRegistry()
	r.SetRecorder(&recordingRecorder{fail: true})

	p, err := r.ProposeCriticalAction(ctx, multisig.ProposeRequest{
		Type: multisig.TypeLockdown, Description: "lockdown", ProposedBy: "alice", IncidentID: "INC-1",
	})
	if err != nil {
		t.Fatalf("recorder failure surfaced from Propose: %v", err)
	}
	if _, err := r.Sign(ctx, p.ID, "bob"); err != nil {
		t.Fatalf("recorder failure surfaced from Sign: %v", err)
	}
	if _, err := r.Reject(ctx, p.ID, "carol", "no"); err != nil {
		t.Fatalf("recorder failure surfaced from Reject: %v", err)
	}
}

func TestSign_concurrentSignersSingleFlip(t *testing.T) {
	r := newRegistry()
	p := propose(t, r, multisig.ProposeRequest{
		Type:        multisig.TypeFundRelease,
		Description: "funds",
		ProposedBy:  "proposer",
	})

	const n = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	var oks, dups, closed int
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := r.Sign(ctx, p.ID, fmt.Sprintf("signer-%d", i))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				oks++
			case errors.Is(err, multisig.ErrAlreadySigned):
				dups++
			case errors.Is(err, multisig.ErrNotPending):
				closed++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	got, err := r.Get(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != multisig.StatusApproved {
		t.Fatalf("status: got %s, want approved", got.Status)
	}
	// Proposer plus exactly two concurrent signers land; the rest see a
	// closed proposal.
	if got.Signatures != got.Required {
		t.Errorf("signatures: got %d, want %d", got.Signatures, got.Required)
	}
	if oks != got.Required-1 {
		t.Errorf("successful signs: got %d, want %d", oks, got.Required-1)
	}
	if closed != n-oks {
		t.Errorf("closed rejections: got %d, want %d", closed, n-oks)
	}
	if dups != 0 {
		t.Errorf("unexpected duplicate errors: %d", dups)
	}
}
