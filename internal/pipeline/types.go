package pipeline

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Metadata keys read from a decoded CDX record.
const (
	MetaLanguages = "languages"
	MetaStatus    = "status"
	MetaFilename  = "filename"
	MetaOffset    = "offset"
	MetaLength    = "length"
	MetaURL       = "url"
	MetaMIME      = "mime-detected"
)

// ChunkPointer identifies a contiguous compressed byte range in a named remote resource.
type ChunkPointer struct {
	ResourceName string
	Offset       uint64
	Length       uint64
}

// String renders the pointer as resource@offset+length for logs.
func (p ChunkPointer) String() string {
	return fmt.Sprintf("%s@%d+%d", p.ResourceName, p.Offset, p.Length)
}

// IndexRecord is one decoded CDX line: `<surt> <timestamp> <json>`.
type IndexRecord struct {
	SURTURL   string         `json:"surt_url"`
	Timestamp string         `json:"timestamp"`
	Metadata  map[string]any `json:"metadata"`
}

// Batch is an ordered group of records delivered as a single queue message.
type Batch []IndexRecord

// Languages returns the language codes carried in the metadata. Common Crawl
// stores them as a comma separated string; JSON arrays are accepted as well.
func (r IndexRecord) Languages() []string {
	raw, ok := r.Metadata[MetaLanguages]
	if !ok || raw == nil {
		return nil
	}
	switch v := raw.(type) {
	case string:
		if v == "" {
			return nil
		}
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Status returns the HTTP status recorded for the capture, as a string.
func (r IndexRecord) Status() string {
	return metaString(r.Metadata[MetaStatus])
}

// TargetURL returns the original (non-SURT) URL when present.
func (r IndexRecord) TargetURL() string {
	return metaString(r.Metadata[MetaURL])
}

// ArchivePointer resolves the WARC location embedded in the record metadata.
func (r IndexRecord) ArchivePointer() (ChunkPointer, error) {
	filename := metaString(r.Metadata[MetaFilename])
	if filename == "" {
		return ChunkPointer{}, &DecodeError{Input: r.SURTURL, Err: fmt.Errorf("metadata.%s is missing", MetaFilename)}
	}
	offset, err := metaUint(r.Metadata[MetaOffset])
	if err != nil {
		return ChunkPointer{}, &DecodeError{Input: r.SURTURL, Err: fmt.Errorf("metadata.%s: %w", MetaOffset, err)}
	}
	length, err := metaUint(r.Metadata[MetaLength])
	if err != nil {
		return ChunkPointer{}, &DecodeError{Input: r.SURTURL, Err: fmt.Errorf("metadata.%s: %w", MetaLength, err)}
	}
	return ChunkPointer{ResourceName: filename, Offset: offset, Length: length}, nil
}

func metaString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case json.Number:
		return s.String()
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	default:
		return fmt.Sprint(s)
	}
}

func metaUint(v any) (uint64, error) {
	switch n := v.(type) {
	case nil:
		return 0, fmt.Errorf("value is missing")
	case string:
		return strconv.ParseUint(strings.TrimSpace(n), 10, 64)
	case json.Number:
		return strconv.ParseUint(n.String(), 10, 64)
	case float64:
		if n < 0 || n != float64(uint64(n)) {
			return 0, fmt.Errorf("invalid value %v", n)
		}
		return uint64(n), nil
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}

// ArchiveSubRecord is one entry inside a decompressed archive segment.
type ArchiveSubRecord struct {
	Type      string
	TargetURI string
	RecordID  string
	Headers   map[string]string
	Payload   []byte
}

// IsResponse reports whether the sub-record is eligible for extraction.
func (r ArchiveSubRecord) IsResponse() bool {
	return r.Type == "response"
}

// ExtractedDocument pairs a storage key with extracted text.
type ExtractedDocument struct {
	Key     string
	Content []byte
}

// DocumentRecord describes one stored document for the catalog.
type DocumentRecord struct {
	Key          string
	URI          string
	ResourceName string
	Offset       uint64
	Length       uint64
	SURTURL      string
	Timestamp    string
	TargetURI    string
	RecordID     string
	SHA256       string
	Bytes        int
	StoredAt     time.Time
}
