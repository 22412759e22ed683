package normalize

import (
	"errors"
	"fmt"
	"math"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/JakeFAU/artsearch-ingest/internal/ingest"
)

var (
	isoDatePattern   = regexp.MustCompile(`^(\d{4})-\d{2}(?:-\d{2})?$`)
	decadePattern    = regexp.MustCompile(`(?i)^(?:(c\.|ca\.?|circa)\s*)?(\d{3})0s$`)
	yearRangePattern = regexp.MustCompile(`(?i)^(?:(c\.|ca\.?|circa|about)\s*)?(\d{1,4})(?:\s*(?:-|to)\s*(\d{1,4}))?$`)
	dimensionPattern = regexp.MustCompile(
		`(?i)^(\d+(?:[.,]\d+)?)\s*(?:x|×)\s*(\d+(?:[.,]\d+)?)\s*(mm|cm|m|in|inch|inches)?\.?$`,
	)
	langPattern = regexp.MustCompile(`^[a-z]{2,3}(?:-[A-Za-z0-9]{2,8})*$`)
)

var unitAliases = map[string]string{
	"mm":     "mm",
	"cm":     "cm",
	"m":      "m",
	"in":     "in",
	"inch":   "in",
	"inches": "in",
}

// ParseDate converts a free-form year expression into a DateRange. It
// understands "1850", "1850-1860", "1850-60", "ca. 1850", "1850s" and
// ISO dates.
func ParseDate(s string) (ingest.DateRange, error) {
	s = strings.TrimSpace(s)
	out := ingest.DateRange{Original: s}
	if s == "" {
		return out, errors.New("empty date")
	}
	if m := isoDatePattern.FindStringSubmatch(s); m != nil {
		year, _ := strconv.Atoi(m[1])
		out.Start, out.End = intPtr(year), intPtr(year)
		return out, nil
	}
	if m := decadePattern.FindStringSubmatch(s); m != nil {
		decade, _ := strconv.Atoi(m[2])
		out.Start, out.End = intPtr(decade*10), intPtr(decade*10+9)
		out.Circa = m[1] != ""
		return out, nil
	}
	m := yearRangePattern.FindStringSubmatch(s)
	if m == nil {
		return out, fmt.Errorf("unrecognized date %q", s)
	}
	start, _ := strconv.Atoi(m[2])
	out.Start = intPtr(start)
	out.Circa = m[1] != ""
	if m[3] == "" {
		out.End = intPtr(start)
		return out, nil
	}
	endDigits := m[3]
	if len(endDigits) < len(m[2]) {
		endDigits = m[2][:len(m[2])-len(endDigits)] + endDigits
	}
	end, _ := strconv.Atoi(endDigits)
	if end < start {
		return out, fmt.Errorf("date range %q ends before it starts", s)
	}
	out.End = intPtr(end)
	return out, nil
}

// ParseDimension parses "W x H unit". ok is false when s is descriptive text.
func ParseDimension(s string) (ingest.Dimension, bool) {
	s = strings.TrimSpace(s)
	m := dimensionPattern.FindStringSubmatch(s)
	if m == nil {
		return ingest.Dimension{Original: s}, false
	}
	w, errW := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", "."), 64)
	h, errH := strconv.ParseFloat(strings.ReplaceAll(m[2], ",", "."), 64)
	if errW != nil || errH != nil {
		return ingest.Dimension{Original: s}, false
	}
	return ingest.Dimension{
		Width:    &w,
		Height:   &h,
		Unit:     unitAliases[strings.ToLower(m[3])],
		Original: s,
	}, true
}

// ImagePath rewrites an image reference to {source}/{basename}.
func ImagePath(source, ref string) (string, error) {
	ref = strings.TrimSpace(strings.ReplaceAll(ref, "\\", "/"))
	base := path.Base(ref)
	if ref == "" || base == "." || base == "/" {
		return "", errors.New("empty image reference")
	}
	return ingest.JoinID(source, base), nil
}

func convertDate(n *run, field string, v any) (any, error) {
	switch val := v.(type) {
	case string:
		return ParseDate(val)
	case float64, int:
		year, err := toInt(val)
		if err != nil {
			return nil, err
		}
		return ingest.DateRange{Start: intPtr(year), End: intPtr(year), Original: strconv.Itoa(year)}, nil
	case map[string]any:
		return convertDateObject(n, field, val)
	default:
		return nil, fmt.Errorf("expected a date string or object, got %s", typeName(v))
	}
}

func convertDateObject(n *run, field string, obj map[string]any) (any, error) {
	out := ingest.DateRange{}
	if original, ok := obj["original"].(string); ok {
		out.Original = strings.TrimSpace(original)
	}
	if circa, ok := obj["circa"].(bool); ok {
		out.Circa = circa
	}
	for _, f := range []struct {
		key  string
		dest **int
	}{{"start", &out.Start}, {"end", &out.End}} {
		raw, present := obj[f.key]
		if !present || raw == nil {
			continue
		}
		year, err := toInt(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.key, err)
		}
		*f.dest = intPtr(year)
	}
	if out.Start == nil && out.End == nil {
		if out.Original == "" {
			return nil, errors.New("date needs start, end or original")
		}
		parsed, err := ParseDate(out.Original)
		if err != nil {
			n.warn(ingest.KindValidationFailed, fmt.Sprintf("%s: kept unparsed date %q", field, out.Original))
			return out, nil
		}
		parsed.Circa = parsed.Circa || out.Circa
		return parsed, nil
	}
	if out.Start != nil && out.End != nil && *out.End < *out.Start {
		return nil, fmt.Errorf("end %d before start %d", *out.End, *out.Start)
	}
	return out, nil
}

func convertName(n *run, field string, v any) (any, error) {
	switch val := v.(type) {
	case string:
		name := strings.TrimSpace(val)
		if name == "" {
			return nil, errors.New("empty name")
		}
		return ingest.Name{Name: name}, nil
	case map[string]any:
		name, _ := val["name"].(string)
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, errors.New("name is required")
		}
		out := ingest.Name{Name: name}
		for i, rawDate := range asList(val["dates"]) {
			subField := fmt.Sprintf("%s.dates[%d]", field, i)
			d, err := convertDate(n, subField, rawDate)
			if err != nil {
				n.warn(ingest.KindValidationFailed, fmt.Sprintf("%s: %v", subField, err))
				continue
			}
			out.Dates = append(out.Dates, d.(ingest.DateRange))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected a name string or object, got %s", typeName(v))
	}
}

func convertDimension(_ *run, _ string, v any) (any, error) {
	switch val := v.(type) {
	case string:
		if strings.TrimSpace(val) == "" {
			return nil, errors.New("empty dimension")
		}
		d, _ := ParseDimension(val)
		return d, nil
	case map[string]any:
		out := ingest.Dimension{}
		out.Label, _ = val["label"].(string)
		out.Original, _ = val["original"].(string)
		if unit, ok := val["unit"].(string); ok && unit != "" {
			canonical, known := unitAliases[strings.ToLower(strings.TrimSpace(unit))]
			if !known {
				return nil, fmt.Errorf("unknown unit %q", unit)
			}
			out.Unit = canonical
		}
		for _, m := range []struct {
			key  string
			dest **float64
		}{{"width", &out.Width}, {"height", &out.Height}} {
			raw, present := val[m.key]
			if !present || raw == nil {
				continue
			}
			f, err := toFloat(raw)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", m.key, err)
			}
			if f <= 0 {
				return nil, fmt.Errorf("%s must be positive", m.key)
			}
			*m.dest = &f
		}
		if out.Width == nil && out.Height == nil && strings.TrimSpace(out.Original) == "" {
			return nil, errors.New("dimension needs width, height or original")
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected a dimension string or object, got %s", typeName(v))
	}
}

func convertLocation(_ *run, _ string, v any) (any, error) {
	switch val := v.(type) {
	case string:
		name := strings.TrimSpace(val)
		if name == "" {
			return nil, errors.New("empty location")
		}
		return ingest.Location{Name: name}, nil
	case map[string]any:
		out := ingest.Location{}
		out.Name, _ = val["name"].(string)
		out.City, _ = val["city"].(string)
		out.Country, _ = val["country"].(string)
		if strings.TrimSpace(out.Name) == "" && strings.TrimSpace(out.City) == "" {
			return nil, errors.New("location needs a name or city")
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected a location string or object, got %s", typeName(v))
	}
}

func convertCategory(_ *run, _ string, v any) (any, error) {
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("expected a string, got %s", typeName(v))
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.New("empty category")
	}
	return s, nil
}

func convertImage(n *run, _ string, v any) (any, error) {
	var ref string
	switch val := v.(type) {
	case string:
		ref = val
	case map[string]any:
		if fileName, ok := val["fileName"].(string); ok && fileName != "" {
			ref = fileName
		} else if id, ok := val["id"].(string); ok {
			ref = id
		}
	default:
		return nil, fmt.Errorf("expected an image path or object, got %s", typeName(v))
	}
	p, err := ImagePath(n.art.Source, ref)
	if err != nil {
		return nil, err
	}
	if _, seen := n.images[p]; seen {
		return nil, fmt.Errorf("duplicate image %q", p)
	}
	n.images[p] = struct{}{}
	return p, nil
}

func asList(v any) []any {
	switch val := v.(type) {
	case nil:
		return nil
	case []any:
		return val
	default:
		return []any{val}
	}
}

func toInt(v any) (int, error) {
	switch val := v.(type) {
	case int:
		return val, nil
	case int64:
		return int(val), nil
	case float64:
		if val != math.Trunc(val) {
			return 0, fmt.Errorf("%v is not a whole year", val)
		}
		return int(val), nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(val))
		if err != nil {
			return 0, fmt.Errorf("%q is not a year", val)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("expected a number, got %s", typeName(v))
	}
}

func toFloat(v any) (float64, error) {
	switch val := v.(type) {
	case int:
		return float64(val), nil
	case int64:
		return float64(val), nil
	case float64:
		return val, nil
	case string:
		f, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(val), ",", "."), 64)
		if err != nil {
			return 0, fmt.Errorf("%q is not a number", val)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("expected a number, got %s", typeName(v))
	}
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case int, int64, float64:
		return "number"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}

func intPtr(i int) *int {
	return &i
}
