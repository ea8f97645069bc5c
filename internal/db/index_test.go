package db

import "testing"

func TestIndexBuilder_Documents(t *testing.T) {
	idx, err := NewIndex("problemdex:reddit:idx").
		Prefix("problemdex:reddit:").
		Tag("category").
		Tag("tag").
		Numeric("seq").
		Vector("__vector", "vector", 384, VectorHNSW, DistanceCosine, 16, 200).
		Build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(idx.Fields) != 4 {
		t.Fatalf("fields count = %d, want 4", len(idx.Fields))
	}
	v := idx.Fields[3]
	if v.Alias != "vector" || v.VectorDim != 384 || v.VectorAlgo != VectorHNSW || v.VectorM != 16 {
		t.Errorf("vector field = %+v", v)
	}
}

func TestIndexBuilder_Invalid(t *testing.T) {
	tests := []struct {
		name string
		b    *IndexBuilder
	}{
		{"empty name", NewIndex("").Tag("a")},
		{"bad chars", NewIndex("my index").Tag("a")},
		{"no fields", NewIndex("idx")},
		{"duplicate", NewIndex("idx").Tag("a").Numeric("a")},
		{"alias collision", NewIndex("idx").Tag("vector").Vector("__vector", "vector", 3, VectorFlat, DistanceCosine, 0, 0)},
		{"zero dim", NewIndex("idx").Vector("v", "", 0, VectorFlat, DistanceCosine, 0, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.b.Build(); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestParseVectorAlgorithm(t *testing.T) {
	tests := map[string]VectorAlgorithm{"": VectorHNSW, "hnsw": VectorHNSW, "FLAT": VectorFlat}
	for in, want := range tests {
		got, err := ParseVectorAlgorithm(in)
		if err != nil || got != want {
			t.Errorf("ParseVectorAlgorithm(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseVectorAlgorithm("ivf"); err == nil {
		t.Error("expected error for unknown algorithm")
	}
}

func TestIsValidIdentifier(t *testing.T) {
	valid := []string{"idx", "a:b:c", "my-index_1"}
	for _, s := range valid {
		if !IsValidIdentifier(s) {
			t.Errorf("IsValidIdentifier(%q) = false", s)
		}
	}
	invalid := []string{"", "a b", "a/b", "a.b"}
	for _, s := range invalid {
		if IsValidIdentifier(s) {
			t.Errorf("IsValidIdentifier(%q) = true", s)
		}
	}
}
