package equipment

import (
	"errors"
	"testing"
	"time"

	"github.com/dkeye/Concord/internal/core"
)

func TestIssueAndVerify(t *testing.T) {
	issuer := NewTokenIssuer("secret", time.Hour)
	p := core.NewParticipant("conf1", "u1")

	token, err := issuer.Issue(p)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if token == "" {
		t.Fatal("empty token")
	}

	got, err := issuer.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if got != p {
		t.Errorf("got %+v, want %+v", got, p)
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	issuer := NewTokenIssuer("secret", time.Hour)
	if _, err := issuer.Verify("not-a-token"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("err = %v", err)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	p := core.NewParticipant("conf1", "u1")
	token, err := NewTokenIssuer("secret-a", time.Hour).Issue(p)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewTokenIssuer("secret-b", time.Hour).Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("err = %v", err)
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	p := core.NewParticipant("conf1", "u1")
	issuer := NewTokenIssuer("secret", -time.Minute)
	token, err := issuer.Issue(p)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := issuer.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("err = %v", err)
	}
}
