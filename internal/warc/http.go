package warc

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/JakeFAU/ccextract/internal/pipeline"
)

// HTTPBody returns the entity body of an archived HTTP response block with
// transfer and content encodings removed. A body cut short by the crawler is
// returned as far as it goes.
func HTTPBody(block []byte) ([]byte, error) {
	resp, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(block)), nil)
	if err != nil {
		// Status lines such as "HTTP/2 200" are rejected by net/http; fall
		// back to splitting at the end of the header section.
		if i := bytes.Index(block, []byte("\r\n\r\n")); i >= 0 && bytes.HasPrefix(block, []byte("HTTP/")) {
			return block[i+4:], nil
		}
		return nil, &pipeline.DecodeError{Input: firstLine(block), Err: fmt.Errorf("http response: %w", err)}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, &pipeline.DecodeError{Input: firstLine(block), Err: fmt.Errorf("http body: %w", err)}
	}

	if strings.EqualFold(strings.TrimSpace(resp.Header.Get("Content-Encoding")), "gzip") {
		if decoded, derr := gunzip(body); derr == nil {
			body = decoded
		}
	}
	return body, nil
}

func gunzip(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gzip header: %w", err)
	}
	defer func() {
		_ = zr.Close()
	}()
	out, err := io.ReadAll(zr)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, fmt.Errorf("gzip body: %w", err)
	}
	return out, nil
}

func firstLine(b []byte) string {
	if i := bytes.IndexByte(b, '\n'); i >= 0 {
		b = b[:i]
	}
	return strings.TrimRight(string(b), "\r")
}
