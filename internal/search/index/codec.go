package index

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"

	apperrors "github.com/registrylabs/pkgserve/pkg/errors"
)

// Snapshot blob layout: 16-byte header (magic, format version, body length),
// JSON body, 4-byte CRC32 footer over the body.
const (
	MagicBytes    uint32 = 0x504B5358
	FormatVersion uint32 = 1
	headerSize           = 16
	footerSize           = 4
)

// snapshotBody is the serialized form of the index. Postings are not stored:
// they are derived from the per-document term records on decode, which makes
// the "postings mirror the documents" invariant true by construction after
// every load.
type snapshotBody struct {
	Terms   []string  `json:"terms"`
	NextDoc uint32    `json:"next_doc"`
	Docs    []docBody `json:"docs"`
}

type docBody struct {
	Doc      uint32             `json:"id"`
	PkgID    string             `json:"pkg"`
	FieldLen [NumFields]uint32  `json:"len"`
	Terms    []termFreqBody     `json:"terms"`
	Features map[string]float64 `json:"feat"`
}

type termFreqBody struct {
	Term  uint32            `json:"t"`
	Freqs [NumFields]uint32 `json:"f"`
}

// Encode serializes the full index state into a self-verifying blob.
func (ix *Index) Encode() ([]byte, error) {
	body := snapshotBody{
		Terms:   ix.terms.names,
		NextDoc: ix.nextDoc,
		Docs:    make([]docBody, 0, len(ix.docs)),
	}
	for doc, rec := range ix.docs {
		tfs := make([]termFreqBody, len(rec.terms))
		for i, tf := range rec.terms {
			tfs[i] = termFreqBody{Term: tf.Term, Freqs: tf.Freqs}
		}
		body.Docs = append(body.Docs, docBody{
			Doc:      doc,
			PkgID:    rec.pkgID,
			FieldLen: rec.fieldLen,
			Terms:    tfs,
			Features: rec.features,
		})
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling index snapshot: %w", err)
	}

	out := make([]byte, headerSize+len(payload)+footerSize)
	binary.LittleEndian.PutUint32(out[0:4], MagicBytes)
	binary.LittleEndian.PutUint32(out[4:8], FormatVersion)
	binary.LittleEndian.PutUint64(out[8:16], uint64(len(payload)))
	copy(out[headerSize:], payload)
	binary.LittleEndian.PutUint32(out[headerSize+len(payload):], crc32.ChecksumIEEE(payload))
	return out, nil
}

// Decode reconstructs an index from a snapshot blob. Any truncation,
// checksum mismatch, or structural inconsistency fails with
// ErrCorruptSnapshot; no partially built index is ever returned.
func Decode(data []byte) (*Index, error) {
	if len(data) < headerSize+footerSize {
		return nil, fmt.Errorf("%w: blob too short (%d bytes)", apperrors.ErrCorruptSnapshot, len(data))
	}
	if magic := binary.LittleEndian.Uint32(data[0:4]); magic != MagicBytes {
		return nil, fmt.Errorf("%w: bad magic bytes %x", apperrors.ErrCorruptSnapshot, magic)
	}
	if version := binary.LittleEndian.Uint32(data[4:8]); version != FormatVersion {
		return nil, fmt.Errorf("%w: unsupported format version %d", apperrors.ErrCorruptSnapshot, version)
	}
	bodyLen := binary.LittleEndian.Uint64(data[8:16])
	if uint64(len(data)) != headerSize+bodyLen+footerSize {
		return nil, fmt.Errorf("%w: truncated blob, want %d bytes got %d",
			apperrors.ErrCorruptSnapshot, headerSize+bodyLen+footerSize, len(data))
	}
	payload := data[headerSize : headerSize+bodyLen]
	checksum := binary.LittleEndian.Uint32(data[headerSize+bodyLen:])
	if actual := crc32.ChecksumIEEE(payload); actual != checksum {
		return nil, fmt.Errorf("%w: checksum mismatch, want %08x got %08x",
			apperrors.ErrCorruptSnapshot, checksum, actual)
	}

	var body snapshotBody
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("%w: parsing body: %v", apperrors.ErrCorruptSnapshot, err)
	}

	ix := New()
	ix.terms.names = body.Terms
	for id, term := range body.Terms {
		ix.terms.ids[term] = uint32(id)
	}
	ix.nextDoc = body.NextDoc

	termCount := uint32(len(body.Terms))
	for _, db := range body.Docs {
		if db.Doc >= body.NextDoc {
			return nil, fmt.Errorf("%w: document id %d beyond allocator %d",
				apperrors.ErrCorruptSnapshot, db.Doc, body.NextDoc)
		}
		if _, dup := ix.byPkg[db.PkgID]; dup {
			return nil, fmt.Errorf("%w: duplicate package %q", apperrors.ErrCorruptSnapshot, db.PkgID)
		}
		rec := &docRecord{
			pkgID:    db.PkgID,
			terms:    make([]termFreq, len(db.Terms)),
			fieldLen: db.FieldLen,
			features: db.Features,
		}
		for i, tf := range db.Terms {
			if tf.Term >= termCount {
				return nil, fmt.Errorf("%w: term id %d beyond table of %d",
					apperrors.ErrCorruptSnapshot, tf.Term, termCount)
			}
			if i > 0 && db.Terms[i-1].Term >= tf.Term {
				return nil, fmt.Errorf("%w: unsorted term record for package %q",
					apperrors.ErrCorruptSnapshot, db.PkgID)
			}
			rec.terms[i] = termFreq{Term: tf.Term, Freqs: tf.Freqs}
			ix.post[tf.Term] = ix.post[tf.Term].withInserted(db.Doc, tf.Freqs)
		}
		ix.docs[db.Doc] = rec
		ix.byPkg[db.PkgID] = db.Doc
		for f := 0; f < NumFields; f++ {
			ix.fieldLenSum[f] += uint64(db.FieldLen[f])
		}
		ix.numDocs++
	}
	return ix, nil
}
