package index

// Field enumerates the indexed document fields. Each field carries its own
// BM25F weight and length-normalization parameter, configured externally.
type Field uint8

const (
	FieldName Field = iota
	FieldSynopsis
	FieldDescription
	FieldTags
	FieldAuthor

	// NumFields is the number of indexed fields. Arrays sized by NumFields
	// hold per-field frequencies and lengths.
	NumFields = int(FieldAuthor) + 1
)

var fieldNames = [NumFields]string{
	"name",
	"synopsis",
	"description",
	"tags",
	"author",
}

func (f Field) String() string {
	if int(f) < NumFields {
		return fieldNames[f]
	}
	return "unknown"
}

// FieldByName resolves a configuration field name to its Field constant.
func FieldByName(name string) (Field, bool) {
	for i, n := range fieldNames {
		if n == name {
			return Field(i), true
		}
	}
	return 0, false
}

// FieldTexts holds the raw text of every field for one document, indexed by
// Field.
type FieldTexts [NumFields]string
