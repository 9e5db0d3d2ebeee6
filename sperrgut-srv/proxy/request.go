package proxy

import (
	"bytes"
	"errors"
	"io"
	"net/url"
	"strings"
)

const defaultPort = "80"

var (
	headerTerminator = []byte("\r\n\r\n")
	crlf             = []byte("\r\n")
)

// Request is what the proxy learns from the head of a client request. Raw
// holds every byte read from the client, including anything past the header
// terminator.
type Request struct {
	Raw       []byte
	FirstLine string
	Method    string
	Target    string
	Host      string
	Port      string
}

// ParseRequest extracts the request line and the target host and port.
// It never fails: missing pieces are left empty and the port defaults to 80.
//
// The host comes from the Host header, matched case-insensitively by name.
// Without a Host header the authority of a CONNECT target or an absolute
// request URI is used instead.
func ParseRequest(raw []byte) *Request {
	req := &Request{Raw: raw, Port: defaultPort}

	head := string(raw)
	if end := strings.Index(head, "\r\n\r\n"); end >= 0 {
		head = head[:end]
	}

	lines := strings.Split(head, "\n")
	req.FirstLine = strings.TrimSuffix(lines[0], "\r")
	if fields := strings.Fields(req.FirstLine); len(fields) > 0 {
		req.Method = fields[0]
		if len(fields) > 1 {
			req.Target = fields[1]
		}
	}

	authority := ""
	for _, line := range lines[1:] {
		line = strings.TrimSuffix(line, "\r")
		if line == "" {
			break
		}
		name, value, ok := strings.Cut(line, ":")
		if ok && strings.EqualFold(strings.TrimSpace(name), "host") {
			authority = strings.TrimSpace(value)
			break
		}
	}
	if authority == "" {
		authority = targetAuthority(req.Method, req.Target)
	}

	if authority != "" {
		req.Host, req.Port = splitAuthority(authority)
	}
	return req
}

// IsConnect reports whether the request opens a tunnel. Only the leading
// bytes are checked, the same way the request was received.
func (r *Request) IsConnect() bool {
	return bytes.HasPrefix(r.Raw, []byte("CONNECT"))
}

// CacheKey identifies a response by request line and host.
func (r *Request) CacheKey() string {
	return r.FirstLine + " | Host: " + r.Host
}

// Trailing returns bytes the client sent after the header terminator.
func (r *Request) Trailing() []byte {
	end := bytes.Index(r.Raw, headerTerminator)
	if end < 0 {
		return nil
	}
	return r.Raw[end+len(headerTerminator):]
}

func targetAuthority(method, target string) string {
	if target == "" {
		return ""
	}
	if strings.EqualFold(method, "CONNECT") {
		return target
	}
	if !strings.Contains(target, "://") {
		return ""
	}
	u, err := url.Parse(target)
	if err != nil {
		return ""
	}
	return u.Host
}

// splitAuthority splits host and port at the first colon. A bracketed IPv6
// literal is split after its closing bracket instead.
func splitAuthority(authority string) (host, port string) {
	if strings.HasPrefix(authority, "[") {
		if end := strings.Index(authority, "]"); end > 0 {
			host = authority[1:end]
			if rest := authority[end+1:]; strings.HasPrefix(rest, ":") && len(rest) > 1 {
				return host, rest[1:]
			}
			return host, defaultPort
		}
	}
	if h, p, ok := strings.Cut(authority, ":"); ok {
		return h, p
	}
	return authority, defaultPort
}

// readRequestHead reads from r until the header terminator shows up or
// limit bytes have been read. A read error after some bytes arrived ends
// the head early without an error; the caller works with what it has.
func readRequestHead(r io.Reader, limit int, chunk []byte) ([]byte, error) {
	var head []byte
	for len(head) < limit {
		want := min(len(chunk), limit-len(head))
		n, err := r.Read(chunk[:want])
		if n > 0 {
			searchFrom := max(0, len(head)-len(headerTerminator)+1)
			head = append(head, chunk[:n]...)
			if bytes.Contains(head[searchFrom:], headerTerminator) {
				break
			}
		}
		if err != nil {
			if len(head) > 0 {
				break
			}
			if errors.Is(err, io.EOF) {
				return nil, nil
			}
			return nil, err
		}
	}
	return head, nil
}

// rewriteConnectionClose forces the origin to close after responding. A
// complete Connection header line in the head is replaced; otherwise one is
// inserted before the terminator. A partial head without terminator only
// gets its Connection line replaced and is otherwise returned unchanged.
func rewriteConnectionClose(raw []byte) []byte {
	headEnd := bytes.Index(raw, headerTerminator)
	scanEnd := headEnd
	if scanEnd < 0 {
		scanEnd = len(raw)
	}

	// Header lines start after the request line.
	lineStart := bytes.Index(raw, crlf) + 2
	for lineStart > 1 && lineStart < scanEnd {
		next := bytes.Index(raw[lineStart:], crlf)
		if next < 0 {
			break
		}
		lineEnd := lineStart + next
		line := raw[lineStart:lineEnd]
		if name, _, ok := bytes.Cut(line, []byte(":")); ok &&
			strings.EqualFold(string(bytes.TrimSpace(name)), "connection") {
			out := make([]byte, 0, len(raw))
			out = append(out, raw[:lineStart]...)
			out = append(out, "Connection: close"...)
			out = append(out, raw[lineEnd:]...)
			return out
		}
		lineStart = lineEnd + 2
	}

	if headEnd < 0 {
		return raw
	}
	out := make([]byte, 0, len(raw)+len("\r\nConnection: close"))
	out = append(out, raw[:headEnd]...)
	out = append(out, "\r\nConnection: close"...)
	out = append(out, raw[headEnd:]...)
	return out
}
