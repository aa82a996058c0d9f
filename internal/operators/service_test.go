package operators

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
)

var ctx = context.Background()

func newService() *Service {
	return NewService(NewMemoryRepository(), zap.NewNop())
}

func TestRegister_andLogin(t *testing.T) {
	svc := newService()

	o, err := svc.Register(ctx, "alice@relief.org", "correct-horse", "", "")
	if err != nil {
		t.Fatal(err)
	}
	if o.Handle != "alice" {
		t.Errorf("handle: got %q, want alice", o.Handle)
	}
	if o.Role != RoleResponder {
		t.Errorf("default role: got %s, want responder", o.Role)
	}
	if o.PasswordHash == "correct-horse" || o.PasswordHash == "" {
		t.Error("password stored unhashed")
	}

	got, err := svc.Login(ctx, "alice@relief.org", "correct-horse")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != o.ID {
		t.Errorf("login returned wrong operator: %s vs %s", got.ID, o.ID)
	}
}

func TestRegister_validation(t *testing.T) {
	svc := newService()

	if _, err := svc.Register(ctx, "", "password123", "", ""); err == nil {
		t.Error("empty email accepted")
	}
	if _, err := svc.Register(ctx, "a@b.org", "short", "", ""); err == nil {
		t.Error("short password accepted")
	}
	if _, err := svc.Register(ctx, "a@b.org", "password123", "", "warlord"); err == nil {
		t.Error("unknown role accepted")
	}
}

func TestRegister_duplicateEmail(t *testing.T) {
	svc := newService()
	if _, err := svc.Register(ctx, "alice@relief.org", "password123", "alice1", RoleResponder); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Register(ctx, "ALICE@relief.org", "password456", "alice2", RoleResponder); !errors.Is(err, ErrEmailTaken) {
		t.Errorf("got %v, want ErrEmailTaken", err)
	}
}

func TestRegister_duplicateHandle(t *testing.T) {
	svc := newService()
	if _, err := svc.Register(ctx, "alice@relief.org", "password123", "ops", RoleResponder); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Register(ctx, "bob@relief.org", "password456", "ops", RoleResponder); err == nil {
		t.Error("duplicate handle accepted")
	}
}

func TestLogin_wrongPasswordAndUnknownEmail(t *testing.T) {
	svc := newService()
	if _, err := svc.Register(ctx, "alice@relief.org", "password123", "", RoleCoordinator); err != nil {
		t.Fatal(err)
	}

	if _, err := svc.Login(ctx, "alice@relief.org", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password: got %v, want ErrInvalidCredentials", err)
	}
	if _, err := svc.Login(ctx, "nobody@relief.org", "password123"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown email: got %v, want ErrInvalidCredentials", err)
	}
}

func TestGetByHandle(t *testing.T) {
	svc := newService()
	if _, err := svc.Register(ctx, "carol@relief.org", "password123", "carol-hq", RoleAuditor); err != nil {
		t.Fatal(err)
	}

	o, err := svc.GetByHandle(ctx, "carol-hq")
	if err != nil {
		t.Fatal(err)
	}
	if o.Role != RoleAuditor {
		t.Errorf("role: got %s, want auditor", o.Role)
	}
	if _, err := svc.GetByHandle(ctx, "nobody"); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestSlugifyEmail(t *testing.T) {
	cases := map[string]string{
		"alice@relief.org":     "alice",
		"Bob.Smith@relief.org": "bobsmith",
		"ops-team@relief.org":  "ops-team",
		"--weird--@relief.org": "weird",
	}
	for in, want := range cases {
		if got := slugifyEmail(in); got != want {
			t.Errorf("slugifyEmail(%q): got %q, want %q", in, got, want)
		}
	}
}
