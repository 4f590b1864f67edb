// Package httpreq implements the line-oriented HTTP/1.1 request parser:
// a CRLF state machine over bytes drawn from a connection's read buffer.
package httpreq

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/xtaci/reactord/internal/dbauth"
	"github.com/xtaci/reactord/internal/ringbuf"
)

// State is the parser's current stage.
type State int

const (
	StateRequestLine State = iota
	StateHeader
	StateBody
	StateFinish
)

// Code is the outcome of a Parse call.
type Code int

const (
	NoRequest Code = iota
	GetRequest
	BadRequest
	InternalError
)

// defaultHTML is the set of paths that gain a ".html" suffix.
var defaultHTML = map[string]bool{
	"/index":    true,
	"/register": true,
	"/login":    true,
	"/welcome":  true,
	"/video":    true,
	"/picture":  true,
}

// formTag maps a rewritten path to the auth operation it triggers.
var formTag = map[string]bool{
	"/register.html": false, // false = register
	"/login.html":    true,  // true = login
}

const crlf = "\r\n"

// Request holds the parser's state across possibly-multiple Parse calls
// (the caller re-drives Parse as more bytes arrive on NoRequest).
type Request struct {
	state   State
	method  string
	path    string
	version string
	body    string
	headers map[string]string
	form    map[string]string

	// Verifier is injected so request parsing never directly couples to a
	// concrete database; with nil, every login/register submission is
	// treated as a failed verification and rewritten to /error.html.
	Verifier dbauth.Verifier
}

// New returns a Request ready to parse, backed by the given verifier
// collaborator (may be nil — see Verifier doc).
func New(v dbauth.Verifier) *Request {
	r := &Request{Verifier: v}
	r.Init()
	return r
}

// Init resets the parser to its initial REQUEST_LINE state.
func (r *Request) Init() {
	r.state = StateRequestLine
	r.method = ""
	r.path = ""
	r.version = ""
	r.body = ""
	r.headers = make(map[string]string)
	r.form = make(map[string]string)
}

func (r *Request) State() State     { return r.state }
func (r *Request) Method() string   { return r.method }
func (r *Request) Path() string     { return r.path }
func (r *Request) Version() string  { return r.version }
func (r *Request) Header(k string) (string, bool) {
	v, ok := r.headers[k]
	return v, ok
}
func (r *Request) Form(k string) string { return r.form[k] }

// IsKeepAlive reports whether the parsed request asked to keep the
// connection alive: HTTP/1.1 with an explicit "Connection: keep-alive".
func (r *Request) IsKeepAlive() bool {
	v, ok := r.headers["Connection"]
	return ok && v == "keep-alive" && r.version == "1.1"
}

// Parse consumes as many complete lines as are available in buf, advancing
// state strictly forward, and returns the outcome visible to the
// connection driver.
func (r *Request) Parse(buf *ringbuf.Buffer) Code {
	for r.state != StateFinish {
		data := buf.Peek()
		if r.state == StateBody {
			// Body handling consumes the rest of the currently buffered
			// bytes as a single (non-line-delimited) chunk, guarded by
			// Content-Length below.
			return r.finishBody(buf, data)
		}

		idx := bytes.Index(data, []byte(crlf))
		if idx < 0 {
			// No complete line buffered yet (e.g. a header value with no
			// terminating CRLF): the caller must re-arm for more reads.
			return NoRequest
		}

		line := string(data[:idx])
		buf.Retrieve(idx + len(crlf))

		switch r.state {
		case StateRequestLine:
			if !r.parseRequestLine(line) {
				return BadRequest
			}
		case StateHeader:
			if line == "" {
				r.state = StateBody
				if r.method == "GET" {
					// GET never carries a body. Whatever remains in buf
					// belongs to the next pipelined request, if any.
					r.state = StateFinish
					return GetRequest
				}
			} else {
				r.parseHeaderLine(line)
			}
		}
	}
	return GetRequest
}

func (r *Request) parseRequestLine(line string) bool {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) != 3 {
		return false
	}
	if !strings.HasPrefix(parts[2], "HTTP/") {
		return false
	}
	if parts[0] != "GET" && parts[0] != "POST" {
		return false
	}
	r.method = parts[0]
	r.path = parts[1]
	r.version = strings.TrimPrefix(parts[2], "HTTP/")
	r.state = StateHeader
	r.normalizePath()
	return true
}

func (r *Request) parseHeaderLine(line string) {
	idx := strings.Index(line, ":")
	if idx < 0 {
		r.state = StateBody
		return
	}
	key := line[:idx]
	value := strings.TrimPrefix(line[idx+1:], " ")
	r.headers[key] = value
}

// normalizePath rewrites "/" to "/index.html" and appends ".html" to the
// fixed set of bare paths the original server special-cases.
func (r *Request) normalizePath() {
	if r.path == "/" {
		r.path = "/index.html"
		return
	}
	if defaultHTML[r.path] {
		r.path += ".html"
	}
}

// finishBody handles the BODY state: it requires the full declared
// Content-Length before proceeding (returning NoRequest otherwise), then
// runs POST handling and transitions to FINISH.
func (r *Request) finishBody(buf *ringbuf.Buffer, data []byte) Code {
	contentLength := 0
	if v, ok := r.headers["Content-Length"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			contentLength = n
		}
	}
	if len(data) < contentLength {
		return NoRequest
	}

	r.body = string(data[:contentLength])
	buf.Retrieve(contentLength)

	if r.method == "POST" {
		if ct, _ := r.Header("Content-Type"); ct == "application/x-www-form-urlencoded" {
			decodeForm(r.body, r.form)
			if isLogin, ok := formTag[r.path]; ok {
				r.runAuth(isLogin)
			}
		}
	}

	r.state = StateFinish
	return GetRequest
}

// runAuth dispatches to the verification collaborator and rewrites the
// path to /welcome.html or /error.html per the outcome.
func (r *Request) runAuth(isLogin bool) {
	ok := false
	if r.Verifier != nil {
		ok = r.Verifier.Verify(r.form["username"], r.form["password"], isLogin)
	}
	if ok {
		r.path = "/welcome.html"
	} else {
		r.path = "/error.html"
	}
}

// decodeForm splits body on '&' and '=', decoding '+' to space and '%HH'
// hex escapes, preserving unknown keys verbatim and storing the trailing
// pair even without a terminating '&'.
func decodeForm(body string, into map[string]string) {
	if len(body) == 0 {
		return
	}
	var key, temp strings.Builder
	haveKey := false

	flush := func() {
		if haveKey {
			into[key.String()] = temp.String()
		}
		key.Reset()
		temp.Reset()
		haveKey = false
	}

	n := len(body)
	for i := 0; i < n; i++ {
		c := body[i]
		switch c {
		case '=':
			key.WriteString(temp.String())
			temp.Reset()
			haveKey = true
		case '+':
			temp.WriteByte(' ')
		case '&':
			flush()
		case '%':
			if i+2 < n {
				v := hexVal(body[i+1])*16 + hexVal(body[i+2])
				temp.WriteByte(byte(v))
				i += 2
			}
		default:
			temp.WriteByte(c)
		}
	}
	flush()
}

func hexVal(ch byte) int {
	switch {
	case ch >= 'A' && ch <= 'F':
		return int(ch-'A') + 10
	case ch >= 'a' && ch <= 'f':
		return int(ch-'a') + 10
	default:
		return int(ch - '0')
	}
}
