package service

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFileReferenceResolver_ExpandsValidMention(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "notes.md"), []byte("hello notes"), 0o644); err != nil {
		t.Fatal(err)
	}
	r := NewFileReferenceResolver(dir)
	out, refs := r.Resolve("please read @notes.md carefully")
	if len(refs) != 1 || refs[0].Rejected {
		t.Fatalf("expected 1 accepted ref, got %+v", refs)
	}
	if refs[0].Content != "hello notes" {
		t.Fatalf("unexpected content: %q", refs[0].Content)
	}
	if out != "please read @notes.md carefully" {
		t.Fatalf("accepted mention should be left untouched in output, got %q", out)
	}
}

func TestFileReferenceResolver_RejectsPathEscape(t *testing.T) {
	dir := t.TempDir()
	r := NewFileReferenceResolver(dir)
	out, refs := r.Resolve("look at @../../etc/passwd.txt now")
	if len(refs) != 1 || !refs[0].Rejected {
		t.Fatalf("expected path escape to be rejected, got %+v", refs)
	}
	if !strings.Contains(out, "(path escapes working directory)") {
		t.Fatalf("expected rejection reason inlined, got %q", out)
	}
}

func TestFileReferenceResolver_RejectsSensitivePattern(t *testing.T) {
	dir := t.TempDir()
	r := NewFileReferenceResolver(dir)
	_, refs := r.Resolve("check @.env.txt please")
	if len(refs) != 1 || !refs[0].Rejected || refs[0].Reason != "matches sensitive path pattern" {
		t.Fatalf("expected sensitive-pattern rejection, got %+v", refs)
	}
}

func TestFileReferenceResolver_RejectsDisallowedExtension(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "binary.exe"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	r := NewFileReferenceResolver(dir)
	_, refs := r.Resolve("run @binary.exe now")
	if len(refs) != 1 || !refs[0].Rejected || refs[0].Reason != "extension not in allow-list" {
		t.Fatalf("expected extension rejection, got %+v", refs)
	}
}

func TestFileReferenceResolver_RejectsOversizedFile(t *testing.T) {
	dir := t.TempDir()
	big := make([]byte, MaxFileReferenceSize+1)
	if err := os.WriteFile(filepath.Join(dir, "big.txt"), big, 0o644); err != nil {
		t.Fatal(err)
	}
	r := NewFileReferenceResolver(dir)
	_, refs := r.Resolve("@big.txt is huge")
	if len(refs) != 1 || !refs[0].Rejected || refs[0].Reason != "file exceeds 1MB limit" {
		t.Fatalf("expected size rejection, got %+v", refs)
	}
}

func TestFileReferenceResolver_CapsAtTenFilesPerRequest(t *testing.T) {
	dir := t.TempDir()
	var sb strings.Builder
	for i := 0; i < 12; i++ {
		name := "f" + string(rune('a'+i)) + ".txt"
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
		sb.WriteString("@" + name + " ")
	}
	r := NewFileReferenceResolver(dir)
	_, refs := r.Resolve(sb.String())
	accepted := 0
	rejected := 0
	for _, ref := range refs {
		if ref.Rejected {
			rejected++
		} else {
			accepted++
		}
	}
	if accepted != MaxFileReferencesPerRequest {
		t.Fatalf("expected %d accepted, got %d", MaxFileReferencesPerRequest, accepted)
	}
	if rejected != 2 {
		t.Fatalf("expected 2 rejected past the cap, got %d", rejected)
	}
}

func TestFileReferenceResolver_MissingFileRejected(t *testing.T) {
	dir := t.TempDir()
	r := NewFileReferenceResolver(dir)
	_, refs := r.Resolve("@missing.go not there")
	if len(refs) != 1 || !refs[0].Rejected || refs[0].Reason != "file not found" {
		t.Fatalf("expected not-found rejection, got %+v", refs)
	}
}

func TestFileReferenceResolver_NoMentionsReturnsUnchanged(t *testing.T) {
	r := NewFileReferenceResolver(t.TempDir())
	out, refs := r.Resolve("no mentions here at all")
	if refs != nil {
		t.Fatalf("expected no refs, got %+v", refs)
	}
	if out != "no mentions here at all" {
		t.Fatalf("expected unchanged text, got %q", out)
	}
}
