package blob

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	apperrors "github.com/registrylabs/pkgserve/pkg/errors"
)

func TestPutGetRoundTrip(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	content := []byte("build log line 1\nbuild log line 2\n")
	digest, err := store.Put(content)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if want := fmt.Sprintf("%x", sha256.Sum256(content)); digest != want {
		t.Errorf("digest = %s, want %s", digest, want)
	}

	got, err := store.Get(digest)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Errorf("Get returned different content")
	}
	if !store.Exists(digest) {
		t.Error("Exists = false after Put")
	}

	// Re-putting identical content is a no-op with the same digest.
	again, err := store.Put(content)
	if err != nil || again != digest {
		t.Errorf("second Put = %s, %v", again, err)
	}
}

func TestGetMissing(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	_, err = store.Get("ab" + "cd1234")
	if !errors.Is(err, apperrors.ErrBlobNotFound) {
		t.Errorf("error = %v, want ErrBlobNotFound", err)
	}
	if store.Exists("abcd1234") {
		t.Error("Exists = true for missing blob")
	}
}

func TestGetDetectsTampering(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	digest, err := store.Put([]byte("original content"))
	if err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(dir, digest[:2], digest)
	if err := os.WriteFile(path, []byte("tampered content"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err = store.Get(digest)
	if !errors.Is(err, apperrors.ErrCorruptSnapshot) {
		t.Errorf("error = %v, want ErrCorruptSnapshot", err)
	}
}
