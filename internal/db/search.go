package db

// TagCondition restricts a query to documents whose TAG field holds one of Values.
type TagCondition struct {
	Field  string
	Values []string
}

// KNNQuery is the input for vector similarity search.
type KNNQuery struct {
	IndexName    string
	VectorField  string // defaults to "vector"
	Tags         []TagCondition
	Vector       []float32
	K            int
	ReturnFields []string
}

// SearchResult is the output of a search operation.
type SearchResult struct {
	Total   int
	Entries []SearchEntry
}

// SearchEntry is a single document hit from a search.
// Distance is the raw __vector_score (cosine distance for COSINE indexes).
type SearchEntry struct {
	Key      string
	Distance float64
	Fields   map[string]string
}
