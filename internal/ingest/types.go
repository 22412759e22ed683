package ingest

import (
	"strings"
	"time"
)

// DateRange is a (possibly open) span of years.
type DateRange struct {
	Start    *int   `json:"start,omitempty"`
	End      *int   `json:"end,omitempty"`
	Circa    bool   `json:"circa,omitempty"`
	Original string `json:"original,omitempty"`
}

// Name is an artist credit with optional life or activity dates.
type Name struct {
	Name  string      `json:"name"`
	Dates []DateRange `json:"dates,omitempty"`
}

// Dimension is one measurement of a work. Unparseable measurements keep only
// Original.
type Dimension struct {
	Width    *float64 `json:"width,omitempty"`
	Height   *float64 `json:"height,omitempty"`
	Unit     string   `json:"unit,omitempty"`
	Label    string   `json:"label,omitempty"`
	Original string   `json:"original,omitempty"`
}

// Location is where a work is held or was made.
type Location struct {
	Name    string `json:"name,omitempty"`
	City    string `json:"city,omitempty"`
	Country string `json:"country,omitempty"`
}

// Artwork is the canonical metadata record. ID is {source}/{externalId}.
type Artwork struct {
	ID         string      `json:"id"`
	ExternalID string      `json:"externalId"`
	Source     string      `json:"source"`
	Lang       string      `json:"lang"`
	URL        string      `json:"url"`
	Title      string      `json:"title,omitempty"`
	Artists    []Name      `json:"artists,omitempty"`
	Dates      []DateRange `json:"dates,omitempty"`
	Dimensions []Dimension `json:"dimensions,omitempty"`
	Locations  []Location  `json:"locations,omitempty"`
	ObjectType string      `json:"objectType,omitempty"`
	Medium     string      `json:"medium,omitempty"`
	Categories []string    `json:"categories,omitempty"`
	Images     []string    `json:"images"`
	Created    time.Time   `json:"created,omitzero"`
	Modified   time.Time   `json:"modified,omitzero"`
}

// SimilarityEdge points at a neighbouring image. Edges are a snapshot of the
// similarity engine and must be re-queried to be trusted.
type SimilarityEdge struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

// Image is a content-addressed image record. ID is {source}/{fileName}.
type Image struct {
	ID       string           `json:"id"`
	Source   string           `json:"source"`
	FileName string           `json:"fileName"`
	Hash     string           `json:"hash"`
	Width    int              `json:"width"`
	Height   int              `json:"height"`
	Batch    string           `json:"batch,omitempty"`
	Similar  []SimilarityEdge `json:"similar,omitempty"`
	Created  time.Time        `json:"created,omitzero"`
	Modified time.Time        `json:"modified,omitzero"`
}

// Source is a contributing archive or museum.
type Source struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url,omitempty"`
	Lang string `json:"lang,omitempty"`
}

// BatchKind distinguishes metadata batches from image archive batches.
type BatchKind string

// Supported batch kinds.
const (
	KindMetadata BatchKind = "metadata"
	KindImages   BatchKind = "images"
)

// Valid reports whether k is a known batch kind.
func (k BatchKind) Valid() bool {
	return k == KindMetadata || k == KindImages
}

// ItemState tracks one ImportResult through the pipeline.
type ItemState string

// Per-item states.
const (
	ItemProcessed ItemState = "processed"
	ItemImported  ItemState = "imported"
	ItemFailed    ItemState = "failed"
)

// Outcome describes what importing an item does to the stored record.
type Outcome string

// Import outcomes.
const (
	OutcomeCreated   Outcome = "created"
	OutcomeChanged   Outcome = "changed"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeDeleted   Outcome = "deleted"
	OutcomeUnknown   Outcome = "unknown"
)

// ImportResult is the outcome row for one input item of a batch.
type ImportResult struct {
	ID       string    `json:"id"`
	State    ItemState `json:"state"`
	FileName string    `json:"fileName,omitempty"`
	Data     *Artwork  `json:"data,omitempty"`
	Error    *Issue    `json:"error,omitempty"`
	Warnings []Issue   `json:"warnings"`
	Model    string    `json:"model,omitempty"`
	Result   Outcome   `json:"result,omitempty"`
}

// Failed reports whether the item carries an error.
func (r ImportResult) Failed() bool {
	return r.Error != nil
}

// HasWarning reports whether the item carries a warning of the given kind.
func (r ImportResult) HasWarning(kind ErrorKind) bool {
	for _, w := range r.Warnings {
		if w.Kind == kind {
			return true
		}
	}
	return false
}

// ImportBatch is one bulk upload tracked end to end. ID is
// {source}/{timestamp}.
type ImportBatch struct {
	ID       string         `json:"id"`
	Source   string         `json:"source"`
	Kind     BatchKind      `json:"kind"`
	FileName string         `json:"fileName"`
	FilePath string         `json:"filePath,omitempty"`
	State    State          `json:"state"`
	Error    string         `json:"error,omitempty"`
	Created  time.Time      `json:"created"`
	Modified time.Time      `json:"modified"`
	Results  []ImportResult `json:"results"`

	// FailedState is the state whose effect froze the batch in error. Approve
	// resumes from it; Abandon clears it.
	FailedState State `json:"failedState,omitempty"`
}

// Timestamp returns the {timestamp} half of the batch id.
func (b ImportBatch) Timestamp() string {
	if i := strings.LastIndex(b.ID, "/"); i >= 0 {
		return b.ID[i+1:]
	}
	return b.ID
}

// Counts summarizes the per-item outcomes of a batch.
type Counts struct {
	Total    int `json:"total"`
	Failed   int `json:"failed"`
	Warnings int `json:"warnings"`
	Created  int `json:"created"`
	Changed  int `json:"changed"`
	Deleted  int `json:"deleted"`
	Imported int `json:"imported"`
}

// Counts tallies the batch results.
func (b ImportBatch) Counts() Counts {
	var c Counts
	for _, r := range b.Results {
		c.Total++
		if r.Failed() {
			c.Failed++
		}
		if len(r.Warnings) > 0 {
			c.Warnings++
		}
		if r.State == ItemImported {
			c.Imported++
		}
		switch r.Result {
		case OutcomeCreated:
			c.Created++
		case OutcomeChanged:
			c.Changed++
		case OutcomeDeleted:
			c.Deleted++
		}
	}
	return c
}

// JoinID builds a {source}/{rest} identifier.
func JoinID(source, rest string) string {
	return source + "/" + rest
}

// SplitID splits a {source}/{rest} identifier. ok is false when id has no
// source prefix.
func SplitID(id string) (source, rest string, ok bool) {
	i := strings.Index(id, "/")
	if i <= 0 || i == len(id)-1 {
		return "", "", false
	}
	return id[:i], id[i+1:], true
}
