package batcher

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/JakeFAU/ccextract/internal/pipeline"
)

// DecodeRecords splits a decompressed index chunk into CDX records. Each
// non-empty line has the form `<surt> <timestamp> <json>`; the JSON object may
// itself contain spaces.
func DecodeRecords(data []byte) ([]pipeline.IndexRecord, error) {
	lines := bytes.Split(data, []byte("\n"))
	records := make([]pipeline.IndexRecord, 0, len(lines))
	for _, raw := range lines {
		line := strings.TrimRight(string(raw), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		rec, err := DecodeLine(line)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// DecodeLine parses one CDX line.
func DecodeLine(line string) (pipeline.IndexRecord, error) {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 3 {
		return pipeline.IndexRecord{}, &pipeline.DecodeError{
			Input: line,
			Err:   fmt.Errorf("expected 3 space separated fields, got %d", len(parts)),
		}
	}

	dec := json.NewDecoder(strings.NewReader(parts[2]))
	dec.UseNumber()
	var meta map[string]any
	if err := dec.Decode(&meta); err != nil {
		return pipeline.IndexRecord{}, &pipeline.DecodeError{Input: line, Err: fmt.Errorf("metadata: %w", err)}
	}
	if meta == nil {
		return pipeline.IndexRecord{}, &pipeline.DecodeError{Input: line, Err: fmt.Errorf("metadata is not an object")}
	}
	if dec.More() {
		return pipeline.IndexRecord{}, &pipeline.DecodeError{Input: line, Err: fmt.Errorf("trailing data after metadata")}
	}
	return pipeline.IndexRecord{
		SURTURL:   parts[0],
		Timestamp: parts[1],
		Metadata:  meta,
	}, nil
}
