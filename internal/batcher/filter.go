package batcher

import (
	"github.com/samber/lo"

	"github.com/JakeFAU/ccextract/internal/pipeline"
)

// Filter keeps records captured in the target language with the target status.
type Filter struct {
	Language string
	Status   string
}

// DefaultFilter keeps English pages served with HTTP 200.
func DefaultFilter() Filter {
	return Filter{Language: "eng", Status: "200"}
}

// Accept reports whether the record is batchable.
func (f Filter) Accept(rec pipeline.IndexRecord) bool {
	if rec.Status() != f.Status {
		return false
	}
	return lo.Contains(rec.Languages(), f.Language)
}
