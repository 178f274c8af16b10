package pathguard

import (
	"path/filepath"
	"testing"
)

func TestValidate_WithinRoot(t *testing.T) {
	g := New([]string{"/srv/workspaces"})

	got, err := g.Validate("/srv/workspaces/alice/project")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := filepath.Clean("/srv/workspaces/alice/project")
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestValidate_RootItself(t *testing.T) {
	g := New([]string{"/srv/workspaces"})

	if _, err := g.Validate("/srv/workspaces"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_Outside(t *testing.T) {
	g := New([]string{"/srv/workspaces"})

	_, err := g.Validate("/etc/passwd")
	if err == nil {
		t.Fatal("expected an error, got nil")
	}
	var outside *ErrOutsideAllowList
	if _, ok := err.(*ErrOutsideAllowList); !ok {
		t.Errorf("got %T, want *ErrOutsideAllowList", err)
	}
	_ = outside
}

func TestValidate_RelativeRejected(t *testing.T) {
	g := New([]string{"/srv/workspaces"})

	_, err := g.Validate("srv/workspaces/alice")
	if err == nil {
		t.Fatal("expected an error for a relative path, got nil")
	}
	var notAbs *ErrNotAbsolute
	if _, ok := err.(*ErrNotAbsolute); !ok {
		t.Errorf("got %T, want *ErrNotAbsolute", err)
	}
	_ = notAbs

	var outside *ErrOutsideAllowList
	if _, ok := err.(*ErrOutsideAllowList); ok {
		t.Error("relative path must not be reported as ErrOutsideAllowList")
	}
	_ = outside
}

func TestValidate_SiblingPrefixRejected(t *testing.T) {
	g := New([]string{"/srv/workspace"})

	// "/srv/workspace-evil" shares a string prefix with the root but is not
	// a descendant of it.
	_, err := g.Validate("/srv/workspace-evil/secret")
	if err == nil {
		t.Fatal("expected an error for sibling-prefix path, got nil")
	}
}

func TestValidate_TraversalNormalized(t *testing.T) {
	g := New([]string{"/srv/workspaces"})

	got, err := g.Validate("/srv/workspaces/alice/../alice/project")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := filepath.Clean("/srv/workspaces/alice/project")
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
