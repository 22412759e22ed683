package batch

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/artsearch-ingest/internal/ingest"
)

// Record is one raw metadata record in the canonical input shape.
type Record = map[string]any

// Metadata file formats accepted by DecodeRecords.
var metadataExts = map[string]string{
	".json":   "json",
	".jsonl":  "jsonl",
	".ndjson": "jsonl",
	".yaml":   "yaml",
	".yml":    "yaml",
}

// IsMetadataFile reports whether fileName has a supported metadata extension.
func IsMetadataFile(fileName string) bool {
	_, ok := metadataExts[strings.ToLower(path.Ext(fileName))]
	return ok
}

// DecodeRecords reads every record of a metadata file. The format is chosen
// from the extension of name. Any decode failure is an ERROR_READING_DATA.
func DecodeRecords(name string, r io.Reader) ([]Record, error) {
	format, ok := metadataExts[strings.ToLower(path.Ext(name))]
	if !ok {
		return nil, ingest.Errorf(ingest.KindUnsupportedContent, "%s", path.Base(name))
	}
	var (
		records []Record
		err     error
	)
	switch format {
	case "json":
		records, err = decodeJSONArray(r)
	case "jsonl":
		records, err = decodeJSONLines(r)
	default:
		records, err = decodeYAML(r)
	}
	if err != nil {
		return nil, ingest.Wrap(ingest.KindErrorReadingData, err)
	}
	return records, nil
}

func decodeJSONArray(r io.Reader) ([]Record, error) {
	var records []Record
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	return records, nil
}

func decodeJSONLines(r io.Reader) ([]Record, error) {
	var records []Record
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("decode line %d: %w", line, err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read lines: %w", err)
	}
	return records, nil
}

func decodeYAML(r io.Reader) ([]Record, error) {
	var records []Record
	if err := yaml.NewDecoder(r).Decode(&records); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	return records, nil
}
