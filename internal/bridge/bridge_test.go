package bridge_test

import (
	"context"
	"strings"
	"testing"

	"github.com/reliefops/incidenttrust/internal/bridge"
	"github.com/reliefops/incidenttrust/internal/ledger"
	"github.com/reliefops/incidenttrust/internal/multisig"
	"github.com/reliefops/incidenttrust/internal/signer"
	"go.uber.org/zap"
)

var ctx = context.Background()

type fixture struct {
	ledger   *ledger.Service
	registry *multisig.Registry
}

func newFixture() *fixture {
	keys := signer.NewKeyring()
	logger := zap.NewNop()
	l := ledger.NewService(ledger.NewMemoryStore(), keys, logger)
	r := multisig.NewRegistry(multisig.NewMemoryStore(), keys, logger)
	r.SetRecorder(bridge.New(l, logger))
	return &fixture{ledger: l, registry: r}
}

func eventActions(t *testing.T, l *ledger.Service, incidentID string) []ledger.Action {
	t.Helper()
	events, err := l.Events(ctx, incidentID)
	if err != nil {
		t.Fatal(err)
	}
	out := make([]ledger.Action, len(events))
	for i, e := range events {
		out[i] = e.Action
	}
	return out
}

func TestFundReleaseApprovalFlow(t *testing.T) {
	f := newFixture()

	p, err := f.registry.ProposeCriticalAction(ctx, multisig.ProposeRequest{
		Type:        multisig.TypeFundRelease,
		Description: "release emergency relief funds",
		ProposedBy:  "alice",
		Amount:      "5000",
		Currency:    "USD",
		IncidentID:  "INC-1",
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := f.registry.Sign(ctx, p.ID, "bob"); err != nil {
		t.Fatal(err)
	}
	p, err = f.registry.Sign(ctx, p.ID, "carol")
	if err != nil {
		t.Fatal(err)
	}
	if p.Status != multisig.StatusApproved {
		t.Fatalf("status: got %s, want approved", p.Status)
	}

	actions := eventActions(t, f.ledger, "INC-1")
	want := []ledger.Action{"CRITICAL_FUND_RELEASE", bridge.ActionSigned, bridge.ActionSigned}
	if len(actions) != len(want) {
		t.Fatalf("timeline actions: got %v, want %v", actions, want)
	}
	for i := range want {
		if actions[i] != want[i] {
			t.Errorf("action[%d]: got %s, want %s", i, actions[i], want[i])
		}
	}

	// The approval event carries the execution hash.
	events, _ := f.ledger.Events(ctx, "INC-1")
	last := events[len(events)-1]
	if last.Actor != "carol" {
		t.Errorf("approval event actor: got %s, want carol", last.Actor)
	}
	if !strings.Contains(last.Details, "threshold reached") || !strings.Contains(last.Details, p.ExecutionHash) {
		t.Errorf("approval event details missing execution hash: %q", last.Details)
	}

	if !f.ledger.Verify(ctx, "INC-1") {
		t.Error("timeline failed verification after proposal flow")
	}

	r, err := f.ledger.Export(ctx, "INC-1")
	if err != nil {
		t.Fatal(err)
	}
	if !r.Valid || r.EventCount != 3 {
		t.Errorf("report: valid=%t count=%d, want valid with 3 events", r.Valid, r.EventCount)
	}
}

func TestRejectionIsLogged(t *testing.T) {
	f := newFixture()

	p, err := f.registry.ProposeCriticalAction(ctx, multisig.ProposeRequest{
		Type:        multisig.TypeEvacuation,
		Description: "evacuate the shelter",
		ProposedBy:  "alice",
		IncidentID:  "INC-2",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.registry.Reject(ctx, p.ID, "bob", "route unsafe"); err != nil {
		t.Fatal(err)
	}

	actions := eventActions(t, f.ledger, "INC-2")
	want := []ledger.Action{"CRITICAL_EVACUATION", bridge.ActionRejected}
	if len(actions) != len(want) || actions[0] != want[0] || actions[1] != want[1] {
		t.Fatalf("timeline actions: got %v, want %v", actions, want)
	}

	events, _ := f.ledger.Events(ctx, "INC-2")
	reject := events[1]
	if reject.Actor != "bob" || !strings.Contains(reject.Details, "route unsafe") {
		t.Errorf("rejection event: actor=%s details=%q", reject.Actor, reject.Details)
	}
}

func TestNonCriticalProposalLeavesLedgerAlone(t *testing.T) {
	f := newFixture()

	p, err := f.registry.Propose(ctx, multisig.ProposeRequest{
		Type:        multisig.TypeTransaction,
		Description: "internal transfer",
		ProposedBy:  "alice",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.registry.Sign(ctx, p.ID, "bob"); err != nil {
		t.Fatal(err)
	}

	incidents, err := f.ledger.Incidents(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(incidents) != 0 {
		t.Errorf("non-critical proposal created timelines: %v", incidents)
	}
}

func TestProposalEventsInterleaveWithIncidentEvents(t *testing.T) {
	f := newFixture()

	f.ledger.Append(ctx, "INC-3", "dispatch", ledger.ActionIncidentOpened, "flooding reported") //nolint:errcheck

	p, err := f.registry.ProposeCriticalAction(ctx, multisig.ProposeRequest{
		Type:        multisig.TypeFundRelease,
		Description: "sandbag procurement",
		ProposedBy:  "alice",
		IncidentID:  "INC-3",
	})
	if err != nil {
		t.Fatal(err)
	}

	f.ledger.Append(ctx, "INC-3", "bob", ledger.ActionEvidenceUploaded, "water-level.jpg") //nolint:errcheck

	if _, err := f.registry.Sign(ctx, p.ID, "bob"); err != nil {
		t.Fatal(err)
	}

	events, err := f.ledger.Events(ctx, "INC-3")
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 4 {
		t.Fatalf("event count: got %d, want 4", len(events))
	}
	if !f.ledger.Verify(ctx, "INC-3") {
		t.Error("mixed timeline failed verification")
	}
}
