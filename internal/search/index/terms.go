package index

import "sort"

// termTable interns normalised terms into dense uint32 ids. The table only
// grows: ids are never reused while referenced, so postings serialized
// against one table remain valid after later insertions. Interning a new
// term is a mutation and runs only on the single-writer path.
type termTable struct {
	ids   map[string]uint32
	names []string
}

func newTermTable() *termTable {
	return &termTable{ids: make(map[string]uint32)}
}

// intern returns the id for term, assigning the next id if it is new.
func (t *termTable) intern(term string) uint32 {
	if id, ok := t.ids[term]; ok {
		return id
	}
	id := uint32(len(t.names))
	t.ids[term] = id
	t.names = append(t.names, term)
	return id
}

// lookup returns the id for term if it has ever been interned.
func (t *termTable) lookup(term string) (uint32, bool) {
	id, ok := t.ids[term]
	return id, ok
}

// clone copies the table so a published snapshot is isolated from further
// interning by the writer.
func (t *termTable) clone() *termTable {
	ids := make(map[string]uint32, len(t.ids))
	for term, id := range t.ids {
		ids[term] = id
	}
	names := make([]string, len(t.names))
	copy(names, t.names)
	return &termTable{ids: ids, names: names}
}

// termBag counts term occurrences per field while one document is being
// extracted. It lives only for the duration of an insert and is folded into
// the document's term record afterwards.
type termBag struct {
	counts map[uint32]*[NumFields]uint32
}

func newTermBag() *termBag {
	return &termBag{counts: make(map[uint32]*[NumFields]uint32)}
}

// add records one occurrence of term in field f.
func (b *termBag) add(term uint32, f Field) {
	freqs, ok := b.counts[term]
	if !ok {
		freqs = new([NumFields]uint32)
		b.counts[term] = freqs
	}
	freqs[f]++
}

// fold converts the bag into the document's sorted (term, frequencies)
// record. The sorted order makes removal and serialization deterministic.
func (b *termBag) fold() []termFreq {
	out := make([]termFreq, 0, len(b.counts))
	for term, freqs := range b.counts {
		out = append(out, termFreq{Term: term, Freqs: *freqs})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Term < out[j].Term })
	return out
}
