package blob

import (
	"errors"
	"io"
	"strings"
	"testing"
)

func TestLocalFSPutOpen(t *testing.T) {
	fs := LocalFS{Root: t.TempDir()}

	key, err := fs.Put("results/job-1/result_1.png", strings.NewReader("png-bytes"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if key != "results/job-1/result_1.png" {
		t.Fatalf("key = %q", key)
	}
	if !fs.Exists(key) {
		t.Fatal("expected blob to exist")
	}

	f, err := fs.Open(key)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	data, _ := io.ReadAll(f)
	if string(data) != "png-bytes" {
		t.Fatalf("data = %q", data)
	}

	all, err := fs.ReadAll(key)
	if err != nil || string(all) != "png-bytes" {
		t.Fatalf("read all = %q, %v", all, err)
	}
}

func TestLocalFSRejectsEscapingKeys(t *testing.T) {
	fs := LocalFS{Root: t.TempDir()}
	for _, key := range []string{"../outside.png", "/etc/passwd", "", "uploads/../../x"} {
		if _, err := fs.Put(key, strings.NewReader("x")); !errors.Is(err, ErrInvalidKey) {
			t.Fatalf("put %q error = %v, want %v", key, err, ErrInvalidKey)
		}
		if fs.Exists(key) {
			t.Fatalf("exists %q = true", key)
		}
	}
}

func TestPublicPath(t *testing.T) {
	if got := PublicPath(Key("results", "abc", "result_2.png")); got != "/files/results/abc/result_2.png" {
		t.Fatalf("public path = %q", got)
	}
}
