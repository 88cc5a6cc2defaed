package index

import (
	"sort"

	"github.com/registrylabs/pkgserve/internal/search/docset"
)

// termFreq is one entry of a document's term record: a term id and its
// per-field frequencies. A document's term records are the exact inverse of
// its postings, which is what makes removal O(distinct terms) instead of a
// full index scan.
type termFreq struct {
	Term  uint32
	Freqs [NumFields]uint32
}

// postingEntry is one document's entry in a term's posting list.
type postingEntry struct {
	Doc   uint32
	Freqs [NumFields]uint32
}

// postingList holds the documents containing one term: the ordered id set
// plus the parallel per-field frequency entries, both sorted by document id.
// A postingList is immutable once stored in the index; mutation goes through
// withInserted/withRemoved, which return fresh lists so published snapshots
// keep seeing consistent state.
type postingList struct {
	docs    docset.Set
	entries []postingEntry
}

// docFreq returns the number of documents containing the term. O(1).
func (pl *postingList) docFreq() int {
	if pl == nil {
		return 0
	}
	return pl.docs.Len()
}

// freq returns the per-field frequency for doc via binary search, or zeros
// if the document is not in the list.
func (pl *postingList) freq(doc uint32) [NumFields]uint32 {
	if pl == nil {
		return [NumFields]uint32{}
	}
	i := sort.Search(len(pl.entries), func(i int) bool { return pl.entries[i].Doc >= doc })
	if i < len(pl.entries) && pl.entries[i].Doc == doc {
		return pl.entries[i].Freqs
	}
	return [NumFields]uint32{}
}

// withInserted returns a new list with the document's entry added. Callers
// guarantee doc is not already present (the index removes before re-insert).
func (pl *postingList) withInserted(doc uint32, freqs [NumFields]uint32) *postingList {
	if pl == nil {
		return &postingList{
			docs:    docset.Singleton(doc),
			entries: []postingEntry{{Doc: doc, Freqs: freqs}},
		}
	}
	i := sort.Search(len(pl.entries), func(i int) bool { return pl.entries[i].Doc >= doc })
	entries := make([]postingEntry, 0, len(pl.entries)+1)
	entries = append(entries, pl.entries[:i]...)
	entries = append(entries, postingEntry{Doc: doc, Freqs: freqs})
	entries = append(entries, pl.entries[i:]...)
	return &postingList{
		docs:    pl.docs.WithInserted(doc),
		entries: entries,
	}
}

// withRemoved returns a new list without the document, or nil when the list
// becomes empty.
func (pl *postingList) withRemoved(doc uint32) *postingList {
	if pl == nil {
		return nil
	}
	i := sort.Search(len(pl.entries), func(i int) bool { return pl.entries[i].Doc >= doc })
	if i >= len(pl.entries) || pl.entries[i].Doc != doc {
		return pl
	}
	if len(pl.entries) == 1 {
		return nil
	}
	entries := make([]postingEntry, 0, len(pl.entries)-1)
	entries = append(entries, pl.entries[:i]...)
	entries = append(entries, pl.entries[i+1:]...)
	return &postingList{
		docs:    pl.docs.WithRemoved(doc),
		entries: entries,
	}
}
