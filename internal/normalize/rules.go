package normalize

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/JakeFAU/artsearch-ingest/internal/ingest"
)

type fieldKind int

const (
	scalarField fieldKind = iota
	listField
)

// rule describes how one top-level field is checked and converted. For
// scalar fields convert turns the raw value into a string and validate checks
// it. For list fields convert handles one element at a time.
type rule struct {
	name        string
	required    bool
	recommended bool
	kind        fieldKind
	numeric     bool
	convert     func(n *run, field string, v any) (any, error)
	validate    func(n *run, s string) error
	message     string
	assign      func(a *ingest.Artwork, v any)
}

// rules is walked in order. Required fields come first so the first missing
// one always aborts before optional fields are touched.
var rules = []rule{
	{
		name:     "id",
		required: true,
		kind:     scalarField,
		numeric:  true,
		assign: func(a *ingest.Artwork, v any) {
			a.ExternalID = v.(string)
		},
	},
	{
		name:     "source",
		required: true,
		kind:     scalarField,
		validate: validateSource,
		message:  "unknown source",
		assign: func(a *ingest.Artwork, v any) {
			a.Source = v.(string)
			a.ID = ingest.JoinID(a.Source, a.ExternalID)
		},
	},
	{
		name:     "lang",
		required: true,
		kind:     scalarField,
		validate: func(_ *run, s string) error {
			if !langPattern.MatchString(s) {
				return errors.New("not a language code")
			}
			return nil
		},
		message: "must be a lowercase language code such as \"en\" or \"nl\"",
		assign: func(a *ingest.Artwork, v any) {
			a.Lang = v.(string)
		},
	},
	{
		name:     "url",
		required: true,
		kind:     scalarField,
		validate: validateURL,
		message:  "must be an absolute http(s) URL",
		assign: func(a *ingest.Artwork, v any) {
			a.URL = v.(string)
		},
	},
	{
		name:     "images",
		required: true,
		kind:     listField,
		convert:  convertImage,
		assign: func(a *ingest.Artwork, v any) {
			for _, img := range v.([]any) {
				a.Images = append(a.Images, img.(string))
			}
		},
	},
	{
		name:        "title",
		recommended: true,
		kind:        scalarField,
		assign: func(a *ingest.Artwork, v any) {
			a.Title = v.(string)
		},
	},
	{
		name:        "artists",
		recommended: true,
		kind:        listField,
		convert:     convertName,
		assign: func(a *ingest.Artwork, v any) {
			for _, name := range v.([]any) {
				a.Artists = append(a.Artists, name.(ingest.Name))
			}
		},
	},
	{
		name:        "dates",
		recommended: true,
		kind:        listField,
		convert:     convertDate,
		assign: func(a *ingest.Artwork, v any) {
			for _, d := range v.([]any) {
				a.Dates = append(a.Dates, d.(ingest.DateRange))
			}
		},
	},
	{
		name:        "dimensions",
		recommended: true,
		kind:        listField,
		convert:     convertDimension,
		assign: func(a *ingest.Artwork, v any) {
			for _, d := range v.([]any) {
				a.Dimensions = append(a.Dimensions, d.(ingest.Dimension))
			}
		},
	},
	{
		name:        "objectType",
		recommended: true,
		kind:        scalarField,
		assign: func(a *ingest.Artwork, v any) {
			a.ObjectType = v.(string)
		},
	},
	{
		name:    "locations",
		kind:    listField,
		convert: convertLocation,
		assign: func(a *ingest.Artwork, v any) {
			for _, l := range v.([]any) {
				a.Locations = append(a.Locations, l.(ingest.Location))
			}
		},
	},
	{
		name: "medium",
		kind: scalarField,
		assign: func(a *ingest.Artwork, v any) {
			a.Medium = v.(string)
		},
	},
	{
		name:    "categories",
		kind:    listField,
		convert: convertCategory,
		assign: func(a *ingest.Artwork, v any) {
			for _, c := range v.([]any) {
				a.Categories = append(a.Categories, c.(string))
			}
		},
	},
}

var knownFields = func() map[string]struct{} {
	out := make(map[string]struct{}, len(rules))
	for _, r := range rules {
		out[r.name] = struct{}{}
	}
	return out
}()

func validateSource(n *run, s string) error {
	if n.sources == nil {
		return nil
	}
	if _, ok := n.sources.Lookup(s); !ok {
		return fmt.Errorf("source %q is not in the catalog", s)
	}
	return nil
}

func validateURL(_ *run, s string) error {
	u, err := url.Parse(s)
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("not an absolute http(s) URL")
	}
	return nil
}

// scalarString type-checks a scalar field value.
func scalarString(v any, numeric bool) (string, bool) {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val), true
	case int:
		return strconv.Itoa(val), numeric
	case int64:
		return strconv.FormatInt(val, 10), numeric
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), numeric
	default:
		return "", false
	}
}
