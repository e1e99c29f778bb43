package session

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/sirupsen/logrus"

	"medibill/m/domain"
	"medibill/m/internal/database"
	"medibill/m/internal/migrations"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	db, err := database.Connect(":memory:")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := migrations.Run(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	log := logrus.New()
	log.SetOutput(io.Discard)
	return NewManager(db, "test_secret", nil, "", log)
}

func TestStateLifecycle(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	if state, _ := m.State(); state != StateUnknown {
		t.Fatalf("initial state = %s, want unknown", state)
	}
	m.Resolve()
	if state, _ := m.State(); state != StateAnonymous {
		t.Fatalf("resolved state = %s, want anonymous", state)
	}
	// Resolve is a no-op once the state has settled.
	m.Resolve()
	if state, _ := m.State(); state != StateAnonymous {
		t.Fatalf("second resolve changed state")
	}

	if _, _, err := m.SignUp(ctx, "owner@example.com", "secret123", "Owner", "admin"); err != nil {
		t.Fatalf("sign up: %v", err)
	}
	state, user := m.State()
	if state != StateAuthenticated {
		t.Fatalf("state after sign up = %s, want authenticated", state)
	}
	if user == nil || user.Email != "owner@example.com" || user.Role != "admin" {
		t.Fatalf("authenticated user = %+v", user)
	}

	m.SignOut()
	state, user = m.State()
	if state != StateAnonymous || user != nil {
		t.Fatalf("state after sign out = %s/%v, want anonymous/nil", state, user)
	}
}

func TestOnStateChange(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	var states []State
	unsub := m.OnStateChange(func(s State, _ *domain.User) {
		states = append(states, s)
	})
	if len(states) != 1 || states[0] != StateUnknown {
		t.Fatalf("no immediate callback: %v", states)
	}

	m.Resolve()
	if _, _, err := m.SignUp(ctx, "a@example.com", "secret123", "A", ""); err != nil {
		t.Fatalf("sign up: %v", err)
	}
	m.SignOut()

	want := []State{StateUnknown, StateAnonymous, StateAuthenticated, StateAnonymous}
	if len(states) != len(want) {
		t.Fatalf("got %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("got %v, want %v", states, want)
		}
	}

	unsub()
	if _, _, err := m.SignIn(ctx, "a@example.com", "secret123"); err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if len(states) != len(want) {
		t.Fatalf("callback fired after unsubscribe")
	}
}

func TestSignUpValidation(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	if _, _, err := m.SignUp(ctx, "not an email", "secret123", "X", ""); !errors.Is(err, ErrInvalidEmail) {
		t.Fatalf("bad email: got %v, want ErrInvalidEmail", err)
	}
	if _, _, err := m.SignUp(ctx, "x@example.com", "short", "X", ""); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("short password: got %v, want ErrWeakPassword", err)
	}
	if _, _, err := m.SignUp(ctx, "x@example.com", "secret123", "X", "superuser"); err == nil {
		t.Fatalf("unknown role accepted")
	}

	if _, _, err := m.SignUp(ctx, "x@example.com", "secret123", "X", ""); err != nil {
		t.Fatalf("sign up: %v", err)
	}
	if _, _, err := m.SignUp(ctx, "X@Example.com", "secret123", "X", ""); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("duplicate email: got %v, want ErrEmailTaken", err)
	}
}

func TestSignUpDefaultsToStaffRole(t *testing.T) {
	m := newTestManager(t)
	user, _, err := m.SignUp(context.Background(), "staff@example.com", "secret123", "Staff", "")
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}
	if user.Role != "staff" {
		t.Fatalf("role = %q, want staff", user.Role)
	}
}

func TestSignIn(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	if _, _, err := m.SignUp(ctx, "y@example.com", "secret123", "Y", ""); err != nil {
		t.Fatalf("sign up: %v", err)
	}
	m.SignOut()

	if _, _, err := m.SignIn(ctx, "y@example.com", "wrongpass"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password: got %v, want ErrInvalidCredentials", err)
	}
	if _, _, err := m.SignIn(ctx, "nobody@example.com", "secret123"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown email: got %v, want ErrInvalidCredentials", err)
	}

	user, token, err := m.SignIn(ctx, "Y@EXAMPLE.COM", "secret123")
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if user.Password != "" {
		t.Fatalf("password hash leaked on sign in")
	}
	if token == "" {
		t.Fatalf("no token issued")
	}
	if state, _ := m.State(); state != StateAuthenticated {
		t.Fatalf("state = %s, want authenticated", state)
	}
}

func TestVerifyToken(t *testing.T) {
	m := newTestManager(t)
	user, token, err := m.SignUp(context.Background(), "z@example.com", "secret123", "Z", "admin")
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}

	claims, err := m.VerifyToken(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.UserID != user.ID || claims.Email != "z@example.com" || claims.Role != "admin" {
		t.Fatalf("claims = %+v", claims)
	}

	if _, err := m.VerifyToken("not.a.token"); err == nil {
		t.Fatalf("garbage token verified")
	}

	other := NewManager(m.db, "other_secret", nil, "", m.log)
	if _, err := other.VerifyToken(token); err == nil {
		t.Fatalf("token verified under a different secret")
	}
}

func TestRedirectFlowUnconfigured(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.RedirectURL("state"); !errors.Is(err, ErrRedirectNotConfigured) {
		t.Fatalf("got %v, want ErrRedirectNotConfigured", err)
	}
	if _, _, err := m.CompleteRedirect(context.Background(), "code"); !errors.Is(err, ErrRedirectNotConfigured) {
		t.Fatalf("got %v, want ErrRedirectNotConfigured", err)
	}
}
