// Package index holds the document model, per-field storage policy and the
// in-memory buffer that turns documents into postings before they are
// written out as a segment.
package index

import "errors"

// Field names used by every index.
const (
	FieldKey     = "key"
	FieldName    = "name"
	FieldContent = "content"
)

// ErrEmptyKey is returned for documents without a key.
var ErrEmptyKey = errors.New("document key is empty")

// FieldSpec describes how a field is kept: Stored fields are returned
// verbatim, Tokenized fields are analysed and searchable by term. A field
// that is stored but not tokenized is matched by exact value only.
type FieldSpec struct {
	Name      string
	Stored    bool
	Tokenized bool
}

// Schema is the fixed field policy for documents.
var Schema = []FieldSpec{
	{Name: FieldKey, Stored: true, Tokenized: false},
	{Name: FieldName, Stored: true, Tokenized: true},
	{Name: FieldContent, Stored: true, Tokenized: true},
}

// TokenizedFields returns the names of all searchable fields in schema order.
func TokenizedFields() []string {
	fields := make([]string, 0, len(Schema))
	for _, f := range Schema {
		if f.Tokenized {
			fields = append(fields, f.Name)
		}
	}
	return fields
}

// Lookup returns the schema entry for a field name.
func Lookup(name string) (FieldSpec, bool) {
	for _, f := range Schema {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// Document is one indexed record. Content is optional; a nil Content means
// the document has no body at all, which is different from an empty one.
type Document struct {
	Key     string  `json:"key"`
	Name    string  `json:"name"`
	Content *string `json:"content,omitempty"`
}

// NewDocument builds a document whose name is derived from its key, the
// way paths are indexed.
func NewDocument(key string, content *string) Document {
	return Document{Key: key, Name: key, Content: content}
}

// Validate checks the document can be written.
func (d Document) Validate() error {
	if d.Key == "" {
		return ErrEmptyKey
	}
	return nil
}

// FieldValue returns the text of a field and whether it is present.
func (d Document) FieldValue(field string) (string, bool) {
	switch field {
	case FieldKey:
		return d.Key, true
	case FieldName:
		return d.Name, true
	case FieldContent:
		if d.Content == nil {
			return "", false
		}
		return *d.Content, true
	}
	return "", false
}

// StringPtr is a small helper for optional content.
func StringPtr(s string) *string {
	return &s
}
