// Package index implements the inverted index behind package search: term
// interning, per-term posting lists with per-field frequencies, per-document
// field lengths and static ranking features, running corpus statistics for
// BM25F length normalisation, and a binary snapshot codec.
//
// An Index is not safe for concurrent use. All mutation runs on a single
// writer; readers work against immutable Snapshot values published by that
// writer. Mutations never modify a posting list or document record in place
// once it may be shared with a snapshot; they replace the map entry with a
// freshly built value instead.
package index

import (
	"github.com/registrylabs/pkgserve/internal/search/analysis"
	"github.com/registrylabs/pkgserve/internal/search/docset"
)

// docRecord is the durable per-document state: the sorted (term, frequency)
// record, per-field lengths, and the static feature vector. The term record
// always mirrors the document's postings exactly.
type docRecord struct {
	pkgID    string
	terms    []termFreq
	fieldLen [NumFields]uint32
	features map[string]float64
}

// Index is the mutable inverted index. Exclusively owned by one writer.
type Index struct {
	terms       *termTable
	post        map[uint32]*postingList
	docs        map[uint32]*docRecord
	byPkg       map[string]uint32
	nextDoc     uint32
	fieldLenSum [NumFields]uint64
	numDocs     int
}

// New creates an empty index.
func New() *Index {
	return &Index{
		terms: newTermTable(),
		post:  make(map[uint32]*postingList),
		docs:  make(map[uint32]*docRecord),
		byPkg: make(map[string]uint32),
	}
}

// NumDocs returns the number of documents currently indexed.
func (ix *Index) NumDocs() int {
	return ix.numDocs
}

// Contains reports whether a document exists for the given package id.
func (ix *Index) Contains(pkgID string) bool {
	_, ok := ix.byPkg[pkgID]
	return ok
}

// Insert indexes a document under pkgID. If the package is already indexed
// the call behaves as an update: the previous postings are removed first, so
// no snapshot ever observes a half-replaced document. Cost is linear in the
// total number of terms across fields plus the touched posting lists.
func (ix *Index) Insert(pkgID string, texts FieldTexts, features map[string]float64) {
	ix.Remove(pkgID)

	doc := ix.nextDoc
	ix.nextDoc++

	bag := newTermBag()
	var fieldLen [NumFields]uint32
	for f := 0; f < NumFields; f++ {
		terms := analysis.Analyze(texts[f])
		fieldLen[f] = uint32(len(terms))
		for _, term := range terms {
			bag.add(ix.terms.intern(term), Field(f))
		}
	}

	rec := &docRecord{
		pkgID:    pkgID,
		terms:    bag.fold(),
		fieldLen: fieldLen,
		features: copyFeatures(features),
	}

	for _, tf := range rec.terms {
		ix.post[tf.Term] = ix.post[tf.Term].withInserted(doc, tf.Freqs)
	}

	ix.docs[doc] = rec
	ix.byPkg[pkgID] = doc
	for f := 0; f < NumFields; f++ {
		ix.fieldLenSum[f] += uint64(fieldLen[f])
	}
	ix.numDocs++
}

// Remove deletes the document indexed under pkgID, using the document's own
// term record to touch exactly the affected posting lists. Removing an
// unknown package is a no-op and returns false.
func (ix *Index) Remove(pkgID string) bool {
	doc, ok := ix.byPkg[pkgID]
	if !ok {
		return false
	}
	rec := ix.docs[doc]

	for _, tf := range rec.terms {
		pl := ix.post[tf.Term].withRemoved(doc)
		if pl == nil {
			delete(ix.post, tf.Term)
		} else {
			ix.post[tf.Term] = pl
		}
	}

	delete(ix.docs, doc)
	delete(ix.byPkg, pkgID)
	for f := 0; f < NumFields; f++ {
		ix.fieldLenSum[f] -= uint64(rec.fieldLen[f])
	}
	ix.numDocs--
	return true
}

// UpdateFeatures replaces the static feature vector of an indexed package
// without touching its postings. Returns false if the package is not
// indexed. Used by the download-stats refresher.
func (ix *Index) UpdateFeatures(pkgID string, features map[string]float64) bool {
	doc, ok := ix.byPkg[pkgID]
	if !ok {
		return false
	}
	old := ix.docs[doc]
	ix.docs[doc] = &docRecord{
		pkgID:    old.pkgID,
		terms:    old.terms,
		fieldLen: old.fieldLen,
		features: copyFeatures(features),
	}
	return true
}

// Snapshot publishes an immutable point-in-time view of the index. The maps
// are copied shallowly; the posting lists and document records they point at
// are never mutated in place, so the snapshot stays internally consistent
// while the writer keeps mutating. Cost is O(terms + documents).
func (ix *Index) Snapshot() *Snapshot {
	post := make(map[uint32]*postingList, len(ix.post))
	for term, pl := range ix.post {
		post[term] = pl
	}
	docs := make(map[uint32]*docRecord, len(ix.docs))
	for doc, rec := range ix.docs {
		docs[doc] = rec
	}
	return &Snapshot{
		terms:       ix.terms.clone(),
		post:        post,
		docs:        docs,
		fieldLenSum: ix.fieldLenSum,
		numDocs:     ix.numDocs,
	}
}

func copyFeatures(features map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(features))
	for name, val := range features {
		out[name] = val
	}
	return out
}

// Snapshot is an immutable view of the index used by concurrent readers and
// by the snapshot codec. All methods are safe for concurrent use.
type Snapshot struct {
	terms       *termTable
	post        map[uint32]*postingList
	docs        map[uint32]*docRecord
	fieldLenSum [NumFields]uint64
	numDocs     int
}

// NumDocs returns the number of documents in the snapshot.
func (s *Snapshot) NumDocs() int {
	return s.numDocs
}

// FreqFunc returns the frequency of a term in one document's field.
type FreqFunc func(doc uint32, f Field) uint32

// Postings returns the document set containing term and a frequency
// accessor. Unknown terms yield the empty set, never an error.
func (s *Snapshot) Postings(term string) (docset.Set, FreqFunc) {
	id, ok := s.terms.lookup(term)
	if !ok {
		return docset.Empty(), zeroFreq
	}
	pl, ok := s.post[id]
	if !ok {
		return docset.Empty(), zeroFreq
	}
	return pl.docs, func(doc uint32, f Field) uint32 {
		return pl.freq(doc)[f]
	}
}

// DocFreq returns the number of documents containing term.
func (s *Snapshot) DocFreq(term string) int {
	id, ok := s.terms.lookup(term)
	if !ok {
		return 0
	}
	return s.post[id].docFreq()
}

// AvgFieldLength returns the exact corpus mean length of field f over the
// documents present in this snapshot.
func (s *Snapshot) AvgFieldLength(f Field) float64 {
	if s.numDocs == 0 {
		return 0
	}
	return float64(s.fieldLenSum[f]) / float64(s.numDocs)
}

// FieldLength returns the term count of one document's field.
func (s *Snapshot) FieldLength(doc uint32, f Field) uint32 {
	rec, ok := s.docs[doc]
	if !ok {
		return 0
	}
	return rec.fieldLen[f]
}

// Feature returns the named static feature of a document, or 0 if absent.
func (s *Snapshot) Feature(doc uint32, name string) float64 {
	rec, ok := s.docs[doc]
	if !ok {
		return 0
	}
	return rec.features[name]
}

// PackageID resolves a document id back to its package id.
func (s *Snapshot) PackageID(doc uint32) string {
	rec, ok := s.docs[doc]
	if !ok {
		return ""
	}
	return rec.pkgID
}

func zeroFreq(uint32, Field) uint32 { return 0 }
