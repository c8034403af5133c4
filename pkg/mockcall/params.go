// Response descriptions: configured variants, provider replies, and resolved params
// ResponseParams is immutable once built and derives content type and length from headers
package mockcall

import (
	"net/http"
	"strconv"
	"strings"
)

// Defaults applied to every mocked response unless overridden.
const (
	DefaultCode        = http.StatusOK
	DefaultMessage     = "OK"
	DefaultContentType = "text/plain"
)

// Header is a single response header in configuration order.
type Header struct {
	Name  string `yaml:"name" validate:"required"`
	Value string `yaml:"value"`
}

// ResponseVariant is one configured response of a static list.
// Variants are compared by pointer, so the same value must not be shared between lists
// if per-variant caching is expected to stay separate.
type ResponseVariant struct {
	Code        int      `yaml:"code,omitempty" validate:"omitempty,min=100,max=599"`
	Message     string   `yaml:"message,omitempty"`
	Body        string   `yaml:"body,omitempty"`
	Headers     []Header `yaml:"headers,omitempty" validate:"dive"`
	BodyFactory string   `yaml:"body_factory,omitempty"`
}

// Reply is what a provider method returns. Its headers replace the defaults entirely.
type Reply struct {
	Code        int
	Message     string
	Header      http.Header
	Body        string
	BodyFactory string
}

// ResponseParams is the fully resolved description of a single mocked response.
type ResponseParams struct {
	code    int
	message string
	header  http.Header
	body    *BodySource
}

// NewResponseParams builds params from the given parts. header is copied.
func NewResponseParams(code int, message string, header http.Header, body *BodySource) *ResponseParams {
	h := header.Clone()
	if h == nil {
		h = http.Header{}
	}
	return &ResponseParams{code: code, message: message, header: h, body: body}
}

// DefaultParams returns 200 OK with a text/plain content type and the given body.
func DefaultParams(body *BodySource) *ResponseParams {
	return NewResponseParams(DefaultCode, DefaultMessage, defaultHeader(), body)
}

func defaultHeader() http.Header {
	h := http.Header{}
	h.Set("Content-Type", DefaultContentType)
	return h
}

// Code returns the status code.
func (p *ResponseParams) Code() int { return p.code }

// Message returns the status message.
func (p *ResponseParams) Message() string { return p.message }

// Header returns a copy of the response headers.
func (p *ResponseParams) Header() http.Header { return p.header.Clone() }

// Body returns the body source, or nil when the response has no body.
func (p *ResponseParams) Body() *BodySource { return p.body }

// ContentType returns the Content-Type header, if any.
func (p *ResponseParams) ContentType() (string, bool) {
	v := p.header.Values("Content-Type")
	if len(v) == 0 {
		return "", false
	}
	return v[0], true
}

// ContentLength returns the parsed Content-Length header, or -1 when missing or malformed.
func (p *ResponseParams) ContentLength() int64 {
	v := p.header.Get("Content-Length")
	if v == "" {
		return -1
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil || n < 0 {
		return -1
	}
	return n
}

// paramsFromVariant merges a variant over the defaults. Variant headers replace
// default headers of the same name; other defaults are kept.
func paramsFromVariant(v *ResponseVariant, factory BodyFactory) *ResponseParams {
	code, message := v.Code, v.Message
	if code == 0 {
		code = DefaultCode
	}
	if message == "" {
		if code == DefaultCode {
			message = DefaultMessage
		} else {
			message = http.StatusText(code)
		}
	}

	header := defaultHeader()
	overridden := make(map[string]bool, len(v.Headers))
	for _, h := range v.Headers {
		key := http.CanonicalHeaderKey(h.Name)
		if !overridden[key] {
			header.Del(key)
			overridden[key] = true
		}
		header.Add(key, h.Value)
	}
	return &ResponseParams{code: code, message: message, header: header, body: NewBodySource(factory, v.Body)}
}

func paramsFromReply(r Reply, factory BodyFactory) *ResponseParams {
	code, message := r.Code, r.Message
	if code == 0 {
		code = DefaultCode
	}
	if message == "" {
		message = http.StatusText(code)
	}
	return NewResponseParams(code, message, r.Header, NewBodySource(factory, r.Body))
}
