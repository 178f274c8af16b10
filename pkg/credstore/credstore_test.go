package credstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/cliboard/cliboard/pkg/engine"
)

func TestReadEnv_MissingFileYieldsEmptyMap(t *testing.T) {
	got, err := ReadEnv(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %v, want empty map", got)
	}
}

func TestReadEnv_QuotesStrippedNoEscaping(t *testing.T) {
	dir := t.TempDir()
	content := "OPENAI_API_KEY=\"sk-abc\"\nGEMINI_API_KEY='sk-xyz'\n# a comment\nmalformed-line\nBARE=plain\n"
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	got, err := ReadEnv(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := map[string]string{
		"OPENAI_API_KEY": "sk-abc",
		"GEMINI_API_KEY": "sk-xyz",
		"BARE":           "plain",
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("key %s: got %q, want %q", k, got[k], v)
		}
	}
	if _, ok := got["malformed-line"]; ok {
		t.Error("line without '=' should be ignored")
	}
}

func TestWriteEnv_OverlayAndDelete(t *testing.T) {
	dir := t.TempDir()

	if _, err := WriteEnv(dir, map[string]string{"A": "1", "B": "2"}, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := WriteEnv(dir, map[string]string{"B": "", "C": "3"}, []string{"A"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, ok := got["A"]; ok {
		t.Error("A should have been deleted")
	}
	if v, ok := got["B"]; !ok || v != "" {
		t.Errorf("B should be retained with empty value, got %q ok=%v", v, ok)
	}
	if got["C"] != "3" {
		t.Errorf("C = %q, want 3", got["C"])
	}

	onDisk, err := ReadEnv(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(onDisk) != len(got) {
		t.Errorf("persisted map %v does not match returned map %v", onDisk, got)
	}
}

func TestCheckReadiness_Codex(t *testing.T) {
	dir := t.TempDir()
	s := New(nil)

	r, err := s.CheckReadiness(context.Background(), engine.Codex, dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Ready {
		t.Error("expected not ready with no key and no codex/ dir")
	}

	if _, err := WriteEnv(dir, map[string]string{"OPENAI_API_KEY": "sk-1"}, nil); err != nil {
		t.Fatal(err)
	}
	r, err = s.CheckReadiness(context.Background(), engine.Codex, dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !r.Ready {
		t.Errorf("expected ready once OPENAI_API_KEY is set, reasons=%v", r.Reasons)
	}
}

func TestCheckReadiness_OpenCodeViaDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "opencode"), 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "opencode", "state.json"), []byte("{}"), 0o600); err != nil {
		t.Fatal(err)
	}

	s := New(nil)
	r, err := s.CheckReadiness(context.Background(), engine.OpenCode, dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !r.Ready {
		t.Errorf("expected ready via non-empty opencode/ dir, reasons=%v", r.Reasons)
	}
}

func TestCheckReadiness_Idempotent(t *testing.T) {
	dir := t.TempDir()
	if _, err := WriteEnv(dir, map[string]string{"GEMINI_API_KEY": "sk-1"}, nil); err != nil {
		t.Fatal(err)
	}
	s := New(nil)

	a, err := s.CheckReadiness(context.Background(), engine.Gemini, dir)
	if err != nil {
		t.Fatal(err)
	}
	b, err := s.CheckReadiness(context.Background(), engine.Gemini, dir)
	if err != nil {
		t.Fatal(err)
	}
	if a.Ready != b.Ready || len(a.Reasons) != len(b.Reasons) {
		t.Errorf("readiness not idempotent: %+v vs %+v", a, b)
	}
}
