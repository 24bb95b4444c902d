package auth

import (
	"errors"
	"testing"
)

func TestPolicyCheck(t *testing.T) {
	p := Policy{Roles: map[string][]string{
		"supervisor": {PermValidationDecide, PermValidationRead},
		"bot":        {PermValidationSubmit},
	}}
	if err := p.Check([]string{"supervisor"}, nil, PermValidationDecide); err != nil {
		t.Fatalf("supervisor decide: %v", err)
	}
	err := p.Check([]string{"bot"}, nil, PermValidationDecide)
	var fe ForbiddenError
	if !errors.As(err, &fe) || fe.Permission != PermValidationDecide {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if err := p.Check(nil, []string{PermValidationDecide}, PermValidationDecide); err != nil {
		t.Fatalf("explicit grant: %v", err)
	}
	if err := p.Check([]string{"ghost"}, nil, PermValidationRead); err == nil {
		t.Fatalf("unknown role should grant nothing")
	}
}

func TestPolicyPermissionsUnion(t *testing.T) {
	p := Policy{Roles: map[string][]string{
		"a": {"x", "y"},
		"b": {"y", "z"},
	}}
	got := p.Permissions([]string{"a", "b", "missing"})
	want := []string{"x", "y", "z"}
	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}
	if !p.HasRole("a") || p.HasRole("missing") {
		t.Fatalf("HasRole mismatch")
	}
}
