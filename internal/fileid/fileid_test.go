package fileid

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/uttree/internal/models"
)

func TestSourceKey(t *testing.T) {
	k1 := SourceKey("/inbox/a.csv")
	if k1 != SourceKey("/inbox/a.csv") {
		t.Error("same path should give same key")
	}
	if !strings.HasPrefix(k1, prefix) {
		t.Errorf("key should have prefix %q: got %q", prefix, k1)
	}
	if k1 == SourceKey("/inbox/b.csv") {
		t.Error("different paths should give different keys")
	}
	if k1 != SourceKey("/inbox/./a.csv") || k1 != SourceKey("/inbox/sub/../a.csv") {
		t.Error("equivalent paths should give the same key")
	}
}

func TestSourceKey_relative(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if SourceKey("a.csv") != SourceKey(filepath.Join(wd, "a.csv")) {
		t.Error("relative path should resolve against the working directory")
	}
}

func TestStatAndUnchanged(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.csv")
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	prev, err := Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if prev.Size != 1 || prev.Key != SourceKey(path) {
		t.Errorf("unexpected fingerprint %+v", prev)
	}
	cur, _ := Stat(path)
	if !Unchanged(prev, cur) {
		t.Error("same file should be unchanged")
	}

	if err := os.WriteFile(path, []byte("xy"), 0644); err != nil {
		t.Fatal(err)
	}
	later := time.Now().Add(time.Minute)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatal(err)
	}
	cur, _ = Stat(path)
	if Unchanged(prev, cur) {
		t.Error("modified file should be changed")
	}
	if Unchanged(nil, cur) || Unchanged(prev, nil) {
		t.Error("nil fingerprints are never unchanged")
	}
	if !Unchanged(&models.SourceFile{Path: "p", Size: 1}, &models.SourceFile{Path: "p", Size: 1}) {
		t.Error("equal fingerprints should be unchanged")
	}

	if _, err := Stat(dir); err == nil {
		t.Error("directory should not stat as a source file")
	}
}
