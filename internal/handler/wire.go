package handler

import (
	"bytes"
	"errors"
	"io"
	"net"
	"strings"
	"time"

	"github.com/mir00r/stickylb/internal/domain"
	lberrors "github.com/mir00r/stickylb/internal/errors"
)

// DefaultBufferSize is the size of a single socket read
const DefaultBufferSize = 4096

var (
	headerTerminator = []byte("\r\n\r\n")
	contentLength    = []byte("Content-Length:")
	chunkedEncoding  = []byte("Transfer-Encoding: chunked")
)

// deadlineReader is the part of net.Conn used when reading a message
type deadlineReader interface {
	io.Reader
	SetReadDeadline(t time.Time) error
}

// messageComplete reports whether data holds a full header block and nothing in
// it announces a body. Declared lengths and chunk boundaries are not honoured:
// once either token is seen, reading continues until the peer closes or the
// read times out.
func messageComplete(data []byte) bool {
	return bytes.Contains(data, headerTerminator) &&
		!bytes.Contains(data, contentLength) &&
		!bytes.Contains(data, chunkedEncoding)
}

// ReadMessage reads one HTTP message from conn using the header heuristic of
// messageComplete. Each read is bounded by timeout. A peer close returns the
// bytes read so far; a timeout returns an ErrCodeReadTimeout error and discards them.
func ReadMessage(conn deadlineReader, timeout time.Duration, bufSize int) ([]byte, error) {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}

	buf := make([]byte, bufSize)
	var data []byte

	for {
		if timeout > 0 {
			if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
				return nil, err
			}
		}

		n, err := conn.Read(buf)
		if n > 0 {
			data = append(data, buf[:n]...)
			if messageComplete(data) {
				return data, nil
			}
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				return data, nil
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return nil, lberrors.WrapError(err, lberrors.ErrCodeReadTimeout, "reader", "socket timeout while receiving data")
			}
			return nil, err
		}
	}
}

// ParseRequest decodes the request line and headers of a raw request.
// Header names keep the case they were received with and the last duplicate wins.
func ParseRequest(raw []byte) (*domain.Request, error) {
	text := strings.ToValidUTF8(string(raw), "")
	lines := strings.Split(text, "\r\n")

	requestLine := strings.Fields(lines[0])
	if len(requestLine) != 3 {
		return nil, lberrors.NewParseError("malformed request line").
			WithMetadata("request_line", lines[0])
	}

	headers := make(map[string]string)
	for _, line := range lines[1:] {
		if line == "" {
			break
		}

		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, lberrors.NewParseError("malformed header line").
				WithMetadata("line", line)
		}
		headers[strings.TrimSpace(name)] = strings.TrimSpace(value)
	}

	target := requestLine[1]
	return &domain.Request{
		Method:  requestLine[0],
		Target:  target,
		Path:    requestPath(target),
		Headers: headers,
		Raw:     raw,
	}, nil
}

// requestPath returns the path component of a request target without decoding it
func requestPath(target string) string {
	if i := strings.IndexAny(target, "?#"); i >= 0 {
		target = target[:i]
	}

	// absolute-form and scheme-relative targets carry an authority before the path
	if i := strings.Index(target, "://"); i > 0 && !strings.Contains(target[:i], "/") {
		target = stripAuthority(target[i+3:])
	} else if strings.HasPrefix(target, "//") {
		target = stripAuthority(target[2:])
	}

	if target == "" {
		return "/"
	}
	return target
}

func stripAuthority(s string) string {
	if j := strings.Index(s, "/"); j >= 0 {
		return s[j:]
	}
	return ""
}
