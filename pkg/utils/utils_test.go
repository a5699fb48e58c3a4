package utils

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWriteFileAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "out.list")
	if err := WriteFileAtomic(path, []byte("one\n"), 0644); err != nil {
		t.Fatalf("WriteFileAtomic: %v", err)
	}
	if err := WriteFileAtomic(path, []byte("two\n"), 0644); err != nil {
		t.Fatalf("WriteFileAtomic overwrite: %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil || string(got) != "two\n" {
		t.Fatalf("content=%q err=%v", got, err)
	}
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Fatalf("dir has %d entries, want only the target", len(entries))
	}
}

func TestSHA256Hash(t *testing.T) {
	const want = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if got := SHA256Hash(nil); got != want {
		t.Fatalf("SHA256Hash(nil)=%q, want=%q", got, want)
	}
}

func TestIsRemote(t *testing.T) {
	if !IsRemote("https://a.example/x.list") || IsRemote("rules/x.list") {
		t.Fatal("IsRemote misclassified")
	}
}
