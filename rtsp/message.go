package rtsp

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/bluenviron/gortsplib/v4/pkg/base"
	"github.com/bluenviron/gortsplib/v4/pkg/headers"
)

// ProtocolVersion is the version token on request and status lines.
const ProtocolVersion = "RTSP/1.0"

// Request is a parsed control request.
type Request struct {
	Method Method
	Target string
	// CSeq is kept verbatim so the server can echo it unchanged.
	CSeq       string
	Session    string
	ClientPort int
}

// Marshal renders the request with CRLF separated lines. The Transport
// header is written for SETUP, the Session header for other methods once a
// session is known.
func (r *Request) Marshal() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s\r\nCSeq: %s", r.Method, r.Target, ProtocolVersion, r.CSeq)
	if r.Method == Setup {
		fmt.Fprintf(&b, "\r\nTransport: RTP/UDP; client_port=%d", r.ClientPort)
	} else if r.Session != "" {
		fmt.Fprintf(&b, "\r\nSession: %s", r.Session)
	}
	return b.String()
}

// ParseRequest parses one request. Unknown headers are ignored; a missing
// or unparsable client_port leaves ClientPort zero.
func ParseRequest(text string) (*Request, error) {
	lines := splitLines(text)
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: empty request", ErrProtocol)
	}

	fields := strings.Fields(lines[0])
	if len(fields) < 2 {
		return nil, fmt.Errorf("%w: malformed request line %q", ErrProtocol, lines[0])
	}
	method, err := ParseMethod(strings.ToUpper(fields[0]))
	if err != nil {
		return nil, fmt.Errorf("%w %q", err, fields[0])
	}

	req := &Request{Method: method, Target: fields[1]}
	for _, line := range lines[1:] {
		name, value, ok := splitHeader(line)
		if !ok {
			continue
		}
		switch strings.ToLower(name) {
		case "cseq":
			req.CSeq = value
		case "session":
			req.Session = value
		case "transport":
			if port, err := ParseClientPort(value); err == nil {
				req.ClientPort = port
			}
		}
	}
	return req, nil
}

// ParseClientPort extracts the client_port parameter from a Transport
// header value. A port range yields its first port.
func ParseClientPort(transport string) (int, error) {
	for _, param := range strings.Split(transport, ";") {
		param = strings.TrimSpace(param)
		key, value, ok := strings.Cut(param, "=")
		if !ok || !strings.EqualFold(strings.TrimSpace(key), "client_port") {
			continue
		}
		value, _, _ = strings.Cut(strings.TrimSpace(value), "-")
		port, err := strconv.Atoi(value)
		if err != nil || port <= 0 || port > 65535 {
			return 0, fmt.Errorf("%w: invalid client_port %q", ErrProtocol, value)
		}
		return port, nil
	}
	return 0, fmt.Errorf("%w: no client_port in transport %q", ErrProtocol, transport)
}

// Reply is a parsed control reply.
type Reply struct {
	StatusCode base.StatusCode
	Reason     string
	CSeq       int
	HasCSeq    bool
	Session    string
}

// StatusText returns the reason phrase for a status code.
func StatusText(code base.StatusCode) string {
	if text, ok := base.StatusMessages[code]; ok {
		return text
	}
	return "Unknown"
}

// FormatReply renders a reply with newline separated lines. The CSeq is
// written verbatim. An empty session omits the Session line.
func FormatReply(code base.StatusCode, cseq, session string) string {
	if cseq == "" {
		cseq = "0"
	}
	reply := fmt.Sprintf("%s %d %s\nCSeq: %s", ProtocolVersion, code, StatusText(code), cseq)
	if session != "" {
		reply += "\nSession: " + session
	}
	return reply
}

// ParseReply parses one reply. The status line must carry a numeric code.
// A missing CSeq is reported through HasCSeq rather than as an error so the
// caller decides how to treat it.
func ParseReply(text string) (*Reply, error) {
	lines := splitLines(text)
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: empty reply", ErrProtocol)
	}

	parts := strings.SplitN(lines[0], " ", 3)
	if len(parts) < 2 {
		return nil, fmt.Errorf("%w: malformed status line %q", ErrProtocol, lines[0])
	}
	code, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: non-numeric status code %q", ErrProtocol, parts[1])
	}

	reply := &Reply{StatusCode: base.StatusCode(code)}
	if len(parts) == 3 {
		reply.Reason = parts[2]
	}

	for _, line := range lines[1:] {
		name, value, ok := splitHeader(line)
		if !ok {
			continue
		}
		switch strings.ToLower(name) {
		case "cseq":
			if n, err := strconv.Atoi(value); err == nil {
				reply.CSeq = n
				reply.HasCSeq = true
			}
		case "session":
			var sx headers.Session
			if err := sx.Unmarshal(base.HeaderValue{value}); err == nil {
				reply.Session = sx.Session
			}
		}
	}
	return reply, nil
}

var (
	statusLinePattern  = regexp.MustCompile(`RTSP/\d\.\d \d{3}`)
	requestLinePattern = regexp.MustCompile(`(?i)(SETUP|PLAY|PAUSE|TEARDOWN) \S+ RTSP/\d\.\d`)
)

// SplitReplies splits a chunk read from the control connection into
// individual replies, one per status line. Replies carry no terminator, so
// two replies read together may be glued without a line break.
func SplitReplies(chunk string) []string {
	return splitAt(chunk, statusLinePattern)
}

// SplitCompleteReplies splits buffered control connection text like
// SplitReplies but holds back a trailing reply that is still missing its
// CSeq line, or its Session line on a 200. The held text is returned
// unmodified in rest so the next read can be appended to it.
func SplitCompleteReplies(buffered string) (replies []string, rest string) {
	locs := statusLinePattern.FindAllStringIndex(buffered, -1)
	if len(locs) == 0 {
		return nil, buffered
	}
	last := locs[len(locs)-1][0]
	if replyComplete(buffered[last:]) {
		return SplitReplies(buffered), ""
	}
	return SplitReplies(buffered[:last]), buffered[last:]
}

func replyComplete(text string) bool {
	reply, err := ParseReply(text)
	if err != nil {
		return true
	}
	if !reply.HasCSeq {
		return false
	}
	return reply.StatusCode != base.StatusOK || reply.Session != ""
}

// SplitRequests splits a chunk read from the control connection into
// individual requests, one per request line.
func SplitRequests(chunk string) []string {
	return splitAt(chunk, requestLinePattern)
}

func splitAt(chunk string, start *regexp.Regexp) []string {
	locs := start.FindAllStringIndex(chunk, -1)
	if len(locs) == 0 {
		if strings.TrimSpace(chunk) == "" {
			return nil
		}
		return []string{chunk}
	}

	var messages []string
	if head := strings.TrimSpace(chunk[:locs[0][0]]); head != "" {
		messages = append(messages, head)
	}
	for i, loc := range locs {
		end := len(chunk)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		if msg := strings.TrimSpace(chunk[loc[0]:end]); msg != "" {
			messages = append(messages, msg)
		}
	}
	return messages
}

// splitLines splits on CRLF, LF or CR and drops blank lines.
func splitLines(text string) []string {
	raw := strings.FieldsFunc(text, func(r rune) bool { return r == '\n' || r == '\r' })
	lines := raw[:0]
	for _, line := range raw {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func splitHeader(line string) (name, value string, ok bool) {
	name, value, ok = strings.Cut(line, ":")
	if !ok {
		return "", "", false
	}
	return strings.TrimSpace(name), strings.TrimSpace(value), true
}
