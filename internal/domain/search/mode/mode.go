package mode

// Mode is the retrieval strategy used to answer a search.
type Mode string

// Search mode constants.
const (
	// Semantic ranks documents by similarity to an embedded query.
	Semantic Mode = "semantic"
	// Browse lists documents in insertion order when no query is given.
	Browse Mode = "browse"
	// Sample merges several canned queries into a diverse de-duplicated set.
	Sample Mode = "sample"
	// Similar ranks documents by similarity to a stored document.
	Similar Mode = "similar"
)

// IsValid checks if the mode can be requested with a query.
// Similar is reached only through a document id.
func (m Mode) IsValid() bool {
	return m == Semantic || m == Browse || m == Sample
}

// Scored reports whether results of this mode carry a similarity score.
func (m Mode) Scored() bool { return m != Browse }
