package index

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
	"testing"

	apperrors "github.com/registrylabs/pkgserve/pkg/errors"
)

func buildIndex(t *testing.T) *Index {
	t.Helper()
	ix := New()
	ix.Insert("vector-math", doc(
		"vector math",
		"fast linear algebra",
		"dense vector routines",
		"math",
		"ada",
	), map[string]float64{"downloads": 0.7, "recency": 0.4})
	ix.Insert("json-stream", doc(
		"json stream",
		"streaming json parser",
		"",
		"json parser",
		"grace",
	), map[string]float64{"downloads": 0.2})
	ix.Insert("tmp", doc("temporary", "", "", "", ""), nil)
	ix.Remove("tmp")
	return ix
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	orig := buildIndex(t)
	blob, err := orig.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	restored, err := Decode(blob)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if restored.NumDocs() != orig.NumDocs() {
		t.Fatalf("NumDocs = %d, want %d", restored.NumDocs(), orig.NumDocs())
	}
	a, b := orig.Snapshot(), restored.Snapshot()
	for _, term := range []string{"vector", "json", "pars", "math", "stream", "temporary", "ghost"} {
		if got, want := b.DocFreq(term), a.DocFreq(term); got != want {
			t.Errorf("DocFreq(%q) = %d, want %d", term, got, want)
		}
	}
	for f := 0; f < NumFields; f++ {
		if got, want := b.AvgFieldLength(Field(f)), a.AvgFieldLength(Field(f)); got != want {
			t.Errorf("AvgFieldLength(%d) = %v, want %v", f, got, want)
		}
	}

	docs, freq := b.Postings("vector")
	if docs.Len() != 1 {
		t.Fatalf("postings for vector: %d docs, want 1", docs.Len())
	}
	id := docs[0]
	if got := b.PackageID(id); got != "vector-math" {
		t.Errorf("PackageID = %q, want vector-math", got)
	}
	if got := freq(id, FieldName); got != 1 {
		t.Errorf("freq(name) = %d, want 1", got)
	}
	if got := b.Feature(id, "downloads"); got != 0.7 {
		t.Errorf("Feature(downloads) = %v, want 0.7", got)
	}

	// The restored index stays mutable: document id allocation must not
	// collide with ids already in use.
	restored.Insert("new-pkg", doc("brand new", "", "", "", ""), nil)
	if restored.NumDocs() != orig.NumDocs()+1 {
		t.Errorf("NumDocs after insert = %d", restored.NumDocs())
	}
	if df := restored.Snapshot().DocFreq("vector"); df != 1 {
		t.Errorf("existing document lost after insert, DocFreq(vector) = %d", df)
	}
}

func TestDecodeCorruption(t *testing.T) {
	blob, err := buildIndex(t).Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	corrupt := func(name string, mutate func([]byte) []byte) {
		t.Run(name, func(t *testing.T) {
			data := make([]byte, len(blob))
			copy(data, blob)
			data = mutate(data)
			ix, err := Decode(data)
			if ix != nil {
				t.Error("Decode returned an index from corrupt data")
			}
			if !errors.Is(err, apperrors.ErrCorruptSnapshot) {
				t.Errorf("error = %v, want ErrCorruptSnapshot", err)
			}
		})
	}

	corrupt("empty", func(b []byte) []byte { return nil })
	corrupt("too short", func(b []byte) []byte { return b[:10] })
	corrupt("truncated body", func(b []byte) []byte { return b[:len(b)-8] })
	corrupt("bad magic", func(b []byte) []byte {
		binary.LittleEndian.PutUint32(b[0:4], 0xDEADBEEF)
		return b
	})
	corrupt("future version", func(b []byte) []byte {
		binary.LittleEndian.PutUint32(b[4:8], FormatVersion+1)
		return b
	})
	corrupt("flipped payload byte", func(b []byte) []byte {
		b[headerSize+5] ^= 0xFF
		return b
	})
	corrupt("trailing garbage", func(b []byte) []byte {
		return append(b, 0x00, 0x01)
	})
}

// forgeBlob wraps an arbitrary JSON payload in a valid header and checksum,
// to exercise the structural validation that runs after integrity checks.
func forgeBlob(payload []byte) []byte {
	out := make([]byte, headerSize+len(payload)+footerSize)
	binary.LittleEndian.PutUint32(out[0:4], MagicBytes)
	binary.LittleEndian.PutUint32(out[4:8], FormatVersion)
	binary.LittleEndian.PutUint64(out[8:16], uint64(len(payload)))
	copy(out[headerSize:], payload)
	binary.LittleEndian.PutUint32(out[headerSize+len(payload):], crc32.ChecksumIEEE(payload))
	return out
}

func TestDecodeStructuralValidation(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"not json", `this is not json at all`},
		{"term id beyond table", `{"terms":["only"],"next_doc":1,"docs":[` +
			`{"id":0,"pkg":"p","len":[1,0,0,0,0],"terms":[{"t":7,"f":[1,0,0,0,0]}],"feat":{}}]}`},
		{"doc id beyond allocator", `{"terms":["only"],"next_doc":1,"docs":[` +
			`{"id":5,"pkg":"p","len":[1,0,0,0,0],"terms":[{"t":0,"f":[1,0,0,0,0]}],"feat":{}}]}`},
		{"duplicate package", `{"terms":["x","y"],"next_doc":2,"docs":[` +
			`{"id":0,"pkg":"p","len":[1,0,0,0,0],"terms":[{"t":0,"f":[1,0,0,0,0]}],"feat":{}},` +
			`{"id":1,"pkg":"p","len":[1,0,0,0,0],"terms":[{"t":1,"f":[1,0,0,0,0]}],"feat":{}}]}`},
		{"unsorted term record", `{"terms":["x","y"],"next_doc":1,"docs":[` +
			`{"id":0,"pkg":"p","len":[2,0,0,0,0],"terms":[{"t":1,"f":[1,0,0,0,0]},{"t":0,"f":[1,0,0,0,0]}],"feat":{}}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ix, err := Decode(forgeBlob([]byte(tt.payload)))
			if ix != nil {
				t.Error("Decode returned an index from invalid payload")
			}
			if !errors.Is(err, apperrors.ErrCorruptSnapshot) {
				t.Errorf("error = %v, want ErrCorruptSnapshot", err)
			}
		})
	}
}

func TestEncodeEmptyIndex(t *testing.T) {
	blob, err := New().Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	ix, err := Decode(blob)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if ix.NumDocs() != 0 {
		t.Errorf("NumDocs = %d, want 0", ix.NumDocs())
	}
}
