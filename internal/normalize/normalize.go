// Package normalize validates raw metadata records and converts them into
// canonical artworks.
//
// Each top-level field is handled in a fixed declared order: the value is
// type-checked, converted (a bare string becomes {name: string}, a scalar
// becomes a one-element list, and so on), list elements that fail validation
// are dropped with one warning each, and finally presence is checked. The
// first missing or invalid required field aborts normalization. Missing
// recommended fields only add warnings.
package normalize

import (
	"fmt"
	"sort"

	"github.com/JakeFAU/artsearch-ingest/internal/ingest"
)

// Result is the outcome of normalizing one record. Warnings are populated
// even when Normalize returns an error.
type Result struct {
	Artwork  ingest.Artwork
	Warnings []ingest.Issue
}

// Normalizer converts raw records into canonical artworks.
type Normalizer struct {
	sources ingest.SourceLookup
}

// New builds a Normalizer. When sources is non-nil the source field must name
// a catalog entry.
func New(sources ingest.SourceLookup) *Normalizer {
	return &Normalizer{sources: sources}
}

// run is the state of one Normalize call.
type run struct {
	sources  ingest.SourceLookup
	art      ingest.Artwork
	warnings []ingest.Issue
	images   map[string]struct{}
	reported map[string]struct{}
}

func (n *run) warn(kind ingest.ErrorKind, detail string) {
	n.warnings = append(n.warnings, ingest.Issue{Kind: kind, Detail: detail})
}

// Normalize validates raw and returns the canonical record plus its ordered
// warnings. A fatal problem is returned as an *ingest.Error.
func (z *Normalizer) Normalize(raw map[string]any) (Result, error) {
	n := &run{
		sources:  z.sources,
		warnings: []ingest.Issue{},
		images:   make(map[string]struct{}),
		reported: make(map[string]struct{}),
	}

	unknown := make([]string, 0)
	for key := range raw {
		if _, ok := knownFields[key]; !ok {
			unknown = append(unknown, key)
		}
	}
	sort.Strings(unknown)
	for _, key := range unknown {
		n.warn(ingest.KindUnrecognizedField, key)
	}

	present := make(map[string]bool, len(rules))
	for _, r := range rules {
		ok, err := n.apply(r, raw[r.name])
		if err != nil {
			return Result{Artwork: n.art, Warnings: n.warnings}, err
		}
		present[r.name] = ok
	}

	for _, r := range rules {
		if !r.recommended || present[r.name] {
			continue
		}
		if _, done := n.reported[r.name]; done {
			continue
		}
		n.warn(ingest.KindRecommendedFieldEmpty, r.name)
	}
	return Result{Artwork: n.art, Warnings: n.warnings}, nil
}

// apply processes one field. It reports whether a value was assigned.
func (n *run) apply(r rule, v any) (bool, error) {
	if v == nil {
		return false, n.missing(r)
	}
	switch r.kind {
	case scalarField:
		return n.applyScalar(r, v)
	default:
		return n.applyList(r, v)
	}
}

func (n *run) applyScalar(r rule, v any) (bool, error) {
	s, ok := scalarString(v, r.numeric)
	if !ok {
		return false, n.wrongType(r, fmt.Sprintf("%s: expected string, got %s", r.name, typeName(v)))
	}
	if s == "" {
		return false, n.missing(r)
	}
	if r.validate != nil {
		if err := r.validate(n, s); err != nil {
			detail := r.name
			if r.message != "" {
				detail = fmt.Sprintf("%s: %s", r.name, r.message)
			}
			if r.required {
				return false, &ingest.Error{Kind: ingest.KindValidationFailed, Detail: detail, Err: err}
			}
			n.warn(ingest.KindValidationFailed, detail)
			n.reported[r.name] = struct{}{}
			return false, nil
		}
	}
	r.assign(&n.art, s)
	return true, nil
}

func (n *run) applyList(r rule, v any) (bool, error) {
	var elems []any
	switch val := v.(type) {
	case []any:
		elems = val
	case string, map[string]any:
		elems = []any{val}
	default:
		return false, n.wrongType(r, fmt.Sprintf("%s: expected array, got %s", r.name, typeName(v)))
	}
	kept := make([]any, 0, len(elems))
	for i, elem := range elems {
		field := fmt.Sprintf("%s[%d]", r.name, i)
		out, err := r.convert(n, field, elem)
		if err != nil {
			n.warn(ingest.KindValidationFailed, fmt.Sprintf("%s: %v", field, err))
			continue
		}
		kept = append(kept, out)
	}
	if len(kept) == 0 {
		return false, n.missing(r)
	}
	r.assign(&n.art, kept)
	return true, nil
}

func (n *run) wrongType(r rule, detail string) error {
	if r.required {
		return &ingest.Error{Kind: ingest.KindWrongType, Detail: detail}
	}
	n.warn(ingest.KindWrongType, detail)
	n.reported[r.name] = struct{}{}
	return nil
}

func (n *run) missing(r rule) error {
	if r.required {
		return &ingest.Error{Kind: ingest.KindRequiredFieldEmpty, Detail: r.name}
	}
	return nil
}

// RecordKey returns a stable key for a raw record before normalization:
// {source}/{id} when both are present, otherwise the fallback.
func RecordKey(raw map[string]any, fallback string) string {
	id, okID := scalarString(raw["id"], true)
	source, okSource := scalarString(raw["source"], false)
	if okID && okSource && id != "" && source != "" {
		return ingest.JoinID(source, id)
	}
	return fallback
}
