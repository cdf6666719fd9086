package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/MrEthical07/credgate"
)

func TestUsersLookupIsCaseInsensitive(t *testing.T) {
	u := NewUsers()
	if err := u.Put(credgate.Principal{ID: 1, LoginName: "Alice", SecretHash: "h", Active: true}); err != nil {
		t.Fatalf("put: %v", err)
	}
	p, err := u.FindByLoginName(context.Background(), " ALICE ")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if p.ID != 1 || p.LoginName != "alice" {
		t.Fatalf("unexpected principal: %+v", p)
	}
	if _, err := u.FindByLoginName(context.Background(), "bob"); !errors.Is(err, credgate.ErrPrincipalNotFound) {
		t.Fatalf("expected ErrPrincipalNotFound, got %v", err)
	}
}

func TestUsersPutRejectsDuplicateName(t *testing.T) {
	u := NewUsers()
	_ = u.Put(credgate.Principal{ID: 1, LoginName: "alice"})
	if err := u.Put(credgate.Principal{ID: 2, LoginName: "ALICE"}); !errors.Is(err, ErrDuplicateLoginName) {
		t.Fatalf("expected ErrDuplicateLoginName, got %v", err)
	}
	if err := u.Put(credgate.Principal{ID: 1, LoginName: "alice2"}); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if _, err := u.FindByLoginName(context.Background(), "alice"); !errors.Is(err, credgate.ErrPrincipalNotFound) {
		t.Fatal("old name must be released on rename")
	}
	if u.Len() != 1 {
		t.Fatalf("expected 1 principal, got %d", u.Len())
	}
}

func TestUsersUpdates(t *testing.T) {
	ctx := context.Background()
	u := NewUsers()
	_ = u.Put(credgate.Principal{ID: 1, LoginName: "alice", SecretHash: "old", Active: true})

	if err := u.UpdateSecretHash(ctx, 1, "new"); err != nil {
		t.Fatalf("update hash: %v", err)
	}
	if err := u.SetActive(ctx, 1, false); err != nil {
		t.Fatalf("set active: %v", err)
	}
	p, _ := u.FindByID(ctx, 1)
	if p.SecretHash != "new" || p.Active {
		t.Fatalf("updates not applied: %+v", p)
	}

	p.Active = true
	again, _ := u.FindByID(ctx, 1)
	if again.Active {
		t.Fatal("returned principal must be a copy")
	}

	if err := u.SetActive(ctx, 9, true); !errors.Is(err, credgate.ErrPrincipalNotFound) {
		t.Fatalf("expected ErrPrincipalNotFound, got %v", err)
	}
}
