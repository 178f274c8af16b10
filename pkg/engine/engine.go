// Package engine defines the closed set of CLI agent programs the control
// plane knows how to launch, and the mount identity that distinguishes one
// container from another.
package engine

import (
	"fmt"
	"path/filepath"
)

// Engine is a closed enumeration. No other value is ever accepted at the
// boundary.
type Engine string

const (
	Codex    Engine = "codex"
	Gemini   Engine = "gemini"
	OpenCode Engine = "opencode"
)

// Valid reports whether e is one of the known engines.
func (e Engine) Valid() bool {
	switch e {
	case Codex, Gemini, OpenCode:
		return true
	default:
		return false
	}
}

// Parse validates a raw string against the closed enumeration.
func Parse(s string) (Engine, error) {
	e := Engine(s)
	if !e.Valid() {
		return "", fmt.Errorf("engine: %q is not a recognized engine", s)
	}
	return e, nil
}

// ProcessNames returns the argv[0] of every known engine binary, in a fresh
// slice the caller is free to append to.
func ProcessNames() []string {
	return []string{string(Codex), string(Gemini), string(OpenCode)}
}

// MountFingerprint identifies the filesystem shape a container was started
// with. Two fingerprints are equal iff every field is byte-equal after path
// normalization.
type MountFingerprint struct {
	Engine        Engine
	WorkspacePath string
	CredsPath     string
	ReadOnlyRoot  bool
	UIDGID        string // optional "u:g", empty if unset
}

// Normalize returns a copy with both paths cleaned and made absolute-clean
// via filepath.Clean. Callers are expected to have already resolved paths to
// absolute form before this is called; Normalize only canonicalizes
// separators and redundant elements.
func (m MountFingerprint) Normalize() MountFingerprint {
	m.WorkspacePath = filepath.Clean(m.WorkspacePath)
	m.CredsPath = filepath.Clean(m.CredsPath)
	return m
}

// Equal compares two fingerprints field by field after normalization.
func (m MountFingerprint) Equal(other MountFingerprint) bool {
	a, b := m.Normalize(), other.Normalize()
	return a.Engine == b.Engine &&
		a.WorkspacePath == b.WorkspacePath &&
		a.CredsPath == b.CredsPath &&
		a.ReadOnlyRoot == b.ReadOnlyRoot &&
		a.UIDGID == b.UIDGID
}

// Found records which credential identifiers were present and which
// engine-specific sub-directories were non-empty when readiness was last
// computed.
type Found struct {
	Keys []string
	Dirs []string
}

// Readiness is the result of checking whether an engine has the credentials
// it needs to run.
type Readiness struct {
	Engine  Engine
	Ready   bool
	Reasons []string
	Found   Found
}

// Key returns a stable string suitable for use as a map key or label value.
func (m MountFingerprint) Key() string {
	n := m.Normalize()
	ro := "rw"
	if n.ReadOnlyRoot {
		ro = "ro"
	}
	uidgid := n.UIDGID
	if uidgid == "" {
		uidgid = "-"
	}
	return fmt.Sprintf("%s|%s|%s|%s|%s", n.Engine, n.WorkspacePath, n.CredsPath, ro, uidgid)
}
