// Package warc reads decompressed WARC segments record by record.
package warc

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/textproto"
	"strconv"
	"strings"

	"github.com/JakeFAU/ccextract/internal/pipeline"
)

// Header names used by the reader.
const (
	HeaderType          = "WARC-Type"
	HeaderTargetURI     = "WARC-Target-URI"
	HeaderRecordID      = "WARC-Record-ID"
	HeaderContentLength = "Content-Length"
)

// Reader iterates the records of a WARC stream in order.
type Reader struct {
	br     *bufio.Reader
	tp     *textproto.Reader
	record int
}

// NewReader wraps r. The stream must already be decompressed.
func NewReader(r io.Reader) *Reader {
	br := bufio.NewReader(r)
	return &Reader{br: br, tp: textproto.NewReader(br)}
}

// ReadAll parses every record of a segment.
func ReadAll(data []byte) ([]pipeline.ArchiveSubRecord, error) {
	r := NewReader(bytes.NewReader(data))
	var out []pipeline.ArchiveSubRecord
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
}

// Next returns the next record or io.EOF when the stream is exhausted.
func (r *Reader) Next() (pipeline.ArchiveSubRecord, error) {
	version, err := r.versionLine()
	if err != nil {
		return pipeline.ArchiveSubRecord{}, err
	}
	r.record++
	if !strings.HasPrefix(version, "WARC/") {
		return pipeline.ArchiveSubRecord{}, r.decodeErr(version, fmt.Errorf("unexpected version line"))
	}

	hdr, err := r.tp.ReadMIMEHeader()
	if err != nil {
		return pipeline.ArchiveSubRecord{}, r.decodeErr(version, fmt.Errorf("read headers: %w", err))
	}
	rawLength := hdr.Get(HeaderContentLength)
	length, err := strconv.ParseInt(strings.TrimSpace(rawLength), 10, 64)
	if err != nil || length < 0 {
		return pipeline.ArchiveSubRecord{}, r.decodeErr(version, fmt.Errorf("invalid %s %q", HeaderContentLength, rawLength))
	}

	// The block buffer grows with the bytes actually read, so a forged
	// Content-Length fails as a short read instead of a huge allocation.
	var block bytes.Buffer
	if _, err := io.CopyN(&block, r.br, length); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return pipeline.ArchiveSubRecord{}, r.decodeErr(version, fmt.Errorf("read block of %d bytes: %w", length, err))
	}
	payload := block.Bytes()

	headers := make(map[string]string, len(hdr))
	for k, v := range hdr {
		if len(v) > 0 {
			headers[k] = v[0]
		}
	}
	return pipeline.ArchiveSubRecord{
		Type:      hdr.Get(HeaderType),
		TargetURI: hdr.Get(HeaderTargetURI),
		RecordID:  hdr.Get(HeaderRecordID),
		Headers:   headers,
		Payload:   payload,
	}, nil
}

// versionLine skips the blank separator lines between records.
func (r *Reader) versionLine() (string, error) {
	for {
		line, err := r.br.ReadString('\n')
		trimmed := strings.TrimRight(line, "\r\n")
		if trimmed != "" {
			return trimmed, nil
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return "", io.EOF
			}
			return "", fmt.Errorf("read warc stream: %w", err)
		}
	}
}

func (r *Reader) decodeErr(input string, err error) error {
	return &pipeline.DecodeError{Input: input, Err: fmt.Errorf("warc record %d: %w", r.record, err)}
}
