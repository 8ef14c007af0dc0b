package handler

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
)

// InjectCookie inserts a header line (without terminator) immediately before the
// header/body separator of raw. A response without a separator is returned unchanged.
func InjectCookie(raw []byte, headerLine string) []byte {
	end := bytes.Index(raw, headerTerminator)
	if end == -1 {
		return raw
	}

	out := make([]byte, 0, len(raw)+len(headerLine)+2)
	out = append(out, raw[:end]...)
	out = append(out, "\r\n"...)
	out = append(out, headerLine...)
	out = append(out, raw[end:]...)
	return out
}

const errorPageTemplate = `<!DOCTYPE HTML>
<html>
<head>
    <title>%[1]d %[2]s</title>
    <style>
        body { font-family: Arial, sans-serif; text-align: center; padding: 50px; }
        h1 { color: #d9534f; }
    </style>
</head>
<body>
    <h1>%[1]d %[2]s</h1>
    <p>The load balancer encountered an error while processing your request.</p>
</body>
</html>
`

// ErrorPage builds a complete HTTP response carrying a small HTML error page
func ErrorPage(code int, reason string) []byte {
	if reason == "" {
		reason = http.StatusText(code)
	}
	body := fmt.Sprintf(errorPageTemplate, code, reason)

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "HTTP/1.1 %d %s\r\n", code, reason)
	buf.WriteString("Content-Type: text/html\r\n")
	fmt.Fprintf(&buf, "Content-Length: %d\r\n", len(body))
	buf.WriteString("Connection: close\r\n")
	buf.WriteString("\r\n")
	buf.WriteString(body)
	return buf.Bytes()
}

// WriteErrorPage writes the error page for code directly to w
func WriteErrorPage(w io.Writer, code int, reason string) error {
	_, err := w.Write(ErrorPage(code, reason))
	return err
}
