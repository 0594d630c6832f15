// Package index reads the cluster index that lists the compressed CDX chunks
// of a crawl, one chunk pointer per line.
package index

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/JakeFAU/ccextract/internal/pipeline"
)

// minFields is partition key, filename, offset and length.
const minFields = 4

// Reader yields chunk pointers in file order. It is single pass and not safe
// for concurrent use.
type Reader struct {
	f     *os.File
	csv   *csv.Reader
	total int
	line  int
}

// Option customises the reader.
type Option func(*csv.Reader)

// WithComma overrides the column delimiter (default ',').
func WithComma(r rune) Option {
	return func(c *csv.Reader) { c.Comma = r }
}

// Open opens the index at path and counts its lines for progress reporting.
func Open(path string, opts ...Option) (*Reader, error) {
	total, err := countLines(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path) // #nosec G304 -- operator supplied index path.
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	r := NewReader(f, opts...)
	r.f = f
	r.total = total
	return r, nil
}

// NewReader wraps an already open stream. Len reports zero because the stream
// cannot be rewound to count it.
func NewReader(r io.Reader, opts ...Option) *Reader {
	c := csv.NewReader(r)
	c.FieldsPerRecord = -1
	c.ReuseRecord = true
	// SURT keys carry raw query strings, which may contain '"'.
	c.LazyQuotes = true
	for _, opt := range opts {
		opt(c)
	}
	return &Reader{csv: c}
}

// Len returns the number of lines counted when the index was opened.
func (r *Reader) Len() int {
	return r.total
}

// Next returns the next chunk pointer, or io.EOF after the last line.
func (r *Reader) Next() (pipeline.ChunkPointer, error) {
	for {
		record, err := r.csv.Read()
		if errors.Is(err, io.EOF) {
			return pipeline.ChunkPointer{}, io.EOF
		}
		r.line++
		if err != nil {
			return pipeline.ChunkPointer{}, &pipeline.DecodeError{
				Input: fmt.Sprintf("index line %d", r.line),
				Err:   err,
			}
		}
		if len(record) == 1 && strings.TrimSpace(record[0]) == "" {
			continue
		}
		return parsePointer(record, r.line)
	}
}

// Close releases the underlying file, if any.
func (r *Reader) Close() error {
	if r.f == nil {
		return nil
	}
	if err := r.f.Close(); err != nil {
		return fmt.Errorf("close index: %w", err)
	}
	return nil
}

func parsePointer(record []string, line int) (pipeline.ChunkPointer, error) {
	input := fmt.Sprintf("index line %d", line)
	if len(record) < minFields {
		return pipeline.ChunkPointer{}, &pipeline.DecodeError{
			Input: input,
			Err:   fmt.Errorf("expected at least %d columns, got %d", minFields, len(record)),
		}
	}
	name := strings.TrimSpace(record[1])
	if name == "" {
		return pipeline.ChunkPointer{}, &pipeline.DecodeError{Input: input, Err: errors.New("empty filename")}
	}
	offset, err := strconv.ParseUint(strings.TrimSpace(record[2]), 10, 64)
	if err != nil {
		return pipeline.ChunkPointer{}, &pipeline.DecodeError{Input: input, Err: fmt.Errorf("offset: %w", err)}
	}
	length, err := strconv.ParseUint(strings.TrimSpace(record[3]), 10, 64)
	if err != nil {
		return pipeline.ChunkPointer{}, &pipeline.DecodeError{Input: input, Err: fmt.Errorf("length: %w", err)}
	}
	return pipeline.ChunkPointer{ResourceName: name, Offset: offset, Length: length}, nil
}

func countLines(path string) (int, error) {
	f, err := os.Open(path) // #nosec G304 -- operator supplied index path.
	if err != nil {
		return 0, fmt.Errorf("open index: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only handle

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	count := 0
	for scanner.Scan() {
		if strings.TrimSpace(scanner.Text()) != "" {
			count++
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("count index lines: %w", err)
	}
	return count, nil
}
