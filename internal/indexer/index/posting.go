package index

// Posting records how often a term occurs in one document of a segment.
// Doc is the document's ordinal within its segment.
type Posting struct {
	Doc       uint32 `json:"d"`
	Frequency int    `json:"f"`
}

type PostingList []Posting

// TermEntry is the posting list of one term within one field.
type TermEntry struct {
	Field    string
	Term     string
	Postings PostingList
}

// DocEntry is the per-document metadata a segment keeps next to the
// stored fields: the sequence number gives the global insertion order and
// FieldLengths holds the token count of every tokenized field.
type DocEntry struct {
	Key          string         `json:"k"`
	Seq          uint64         `json:"s"`
	FieldLengths map[string]int `json:"l"`
}
