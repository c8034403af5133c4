// Typed responses and the conversion of resolved params into them
// 204 and 205 never carry a body; non-2xx responses expose the raw error body
package mockcall

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Response is the outcome of a completed call.
type Response[T any] struct {
	// Raw is the synthesised HTTP response. Its Body has been consumed or closed
	// for successful responses and is the same stream as ErrorBody otherwise.
	Raw *http.Response
	// Body is the converted value of a successful response.
	Body T
	// ErrorBody is the unread body of a non-2xx response. Callers must close it.
	ErrorBody io.ReadCloser
}

// Code returns the HTTP status code.
func (r *Response[T]) Code() int { return r.Raw.StatusCode }

// Message returns the status message without the code.
func (r *Response[T]) Message() string {
	if msg, ok := strings.CutPrefix(r.Raw.Status, strconv.Itoa(r.Raw.StatusCode)+" "); ok {
		return msg
	}
	return r.Raw.Status
}

// Header returns the response headers.
func (r *Response[T]) Header() http.Header { return r.Raw.Header }

// IsSuccessful reports whether the status code is in [200, 300).
func (r *Response[T]) IsSuccessful() bool { return isSuccessful(r.Raw.StatusCode) }

func isSuccessful(code int) bool { return code >= 200 && code < 300 }

// Converter decodes the body of a successful response. It must not close resp.Body.
type Converter[T any] func(resp *http.Response) (T, error)

// String reads the body as text.
func String(resp *http.Response) (string, error) {
	b, err := io.ReadAll(resp.Body)
	return string(b), err
}

// Bytes reads the body verbatim.
func Bytes(resp *http.Response) ([]byte, error) {
	return io.ReadAll(resp.Body)
}

// JSON returns a converter that decodes the body as JSON into T.
func JSON[T any]() Converter[T] {
	return func(resp *http.Response) (T, error) {
		var v T
		err := json.NewDecoder(resp.Body).Decode(&v)
		if err == io.EOF {
			err = nil
		}
		return v, err
	}
}

// YAML returns a converter that decodes the body as YAML into T.
func YAML[T any]() Converter[T] {
	return func(resp *http.Response) (T, error) {
		var v T
		err := yaml.NewDecoder(resp.Body).Decode(&v)
		if err == io.EOF {
			err = nil
		}
		return v, err
	}
}

// newRawResponse builds the HTTP envelope for params without opening the body.
func newRawResponse(req *http.Request, params *ResponseParams) *http.Response {
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", params.Code(), params.Message()),
		StatusCode:    params.Code(),
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        params.Header(),
		Body:          http.NoBody,
		ContentLength: params.ContentLength(),
		Request:       req,
	}
}

// openRawResponse builds the envelope and attaches a freshly created body stream.
func openRawResponse(req *http.Request, params *ResponseParams) (*http.Response, error) {
	raw := newRawResponse(req, params)
	if src := params.Body(); src != nil {
		body, err := src.Open()
		if err != nil {
			return nil, fmt.Errorf("%w: creating body: %w", ErrProduce, err)
		}
		if body != nil {
			raw.Body = body
		}
	}
	return raw, nil
}

// materialize turns params into a typed Response.
func materialize[T any](req *http.Request, params *ResponseParams, convert Converter[T]) (*Response[T], error) {
	raw, err := openRawResponse(req, params)
	if err != nil {
		return nil, err
	}

	if !isSuccessful(raw.StatusCode) {
		return &Response[T]{Raw: raw, ErrorBody: raw.Body}, nil
	}

	if raw.StatusCode == http.StatusNoContent || raw.StatusCode == http.StatusResetContent {
		_ = raw.Body.Close()
		raw.Body = http.NoBody
		return &Response[T]{Raw: raw}, nil
	}

	body, err := convert(raw)
	_ = raw.Body.Close()
	raw.Body = http.NoBody
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConvert, err)
	}
	return &Response[T]{Raw: raw, Body: body}, nil
}
