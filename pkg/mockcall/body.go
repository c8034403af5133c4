// Body factories turn a configured body string into a response stream
// Factories are registered on the engine by id and looked up when a site resolves
package mockcall

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"strings"
)

// PassThroughFactoryID is always registered and maps to PassThroughBodyFactory.
const PassThroughFactoryID = "passthrough"

// BodyFactory creates a fresh stream for every response that uses it.
type BodyFactory interface {
	Create(input string) (io.ReadCloser, error)
}

// BodyFactoryFunc adapts a function to the BodyFactory interface.
type BodyFactoryFunc func(input string) (io.ReadCloser, error)

// Create calls f.
func (f BodyFactoryFunc) Create(input string) (io.ReadCloser, error) { return f(input) }

// PassThroughBodyFactory uses the input itself as the body.
type PassThroughBodyFactory struct{}

// Create returns a stream over input.
func (PassThroughBodyFactory) Create(input string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(input)), nil
}

// NonEmptyBodyFactory returns an empty stream for blank input and defers to Next otherwise.
// Use it to wrap factories that cannot handle an empty input, such as file loaders.
type NonEmptyBodyFactory struct {
	Next BodyFactory
}

// Create implements BodyFactory.
func (f NonEmptyBodyFactory) Create(input string) (io.ReadCloser, error) {
	if strings.TrimSpace(input) == "" {
		return http.NoBody, nil
	}
	return f.Next.Create(input)
}

// FSBodyFactory treats the input as a path inside FS and streams that file.
type FSBodyFactory struct {
	FS fs.FS
}

// Create opens the named file.
func (f FSBodyFactory) Create(input string) (io.ReadCloser, error) {
	data, err := fs.ReadFile(f.FS, strings.TrimPrefix(input, "/"))
	if err != nil {
		return nil, fmt.Errorf("loading body %q: %w", input, err)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// BodySource pairs a factory with its input. Open may be called any number of times.
type BodySource struct {
	factory BodyFactory
	input   string
}

// NewBodySource binds input to factory.
func NewBodySource(factory BodyFactory, input string) *BodySource {
	return &BodySource{factory: factory, input: input}
}

// Input returns the raw configured body.
func (b *BodySource) Input() string { return b.input }

// Open creates a new stream.
func (b *BodySource) Open() (io.ReadCloser, error) {
	return b.factory.Create(b.input)
}

// bodyFactories resolves factory ids. The empty id selects the default factory.
type bodyFactories struct {
	byID     map[string]BodyFactory
	fallback BodyFactory
}

func newBodyFactories(registered map[string]BodyFactory, fallback BodyFactory) *bodyFactories {
	byID := make(map[string]BodyFactory, len(registered)+1)
	for id, f := range registered {
		byID[id] = f
	}
	byID[PassThroughFactoryID] = PassThroughBodyFactory{}
	if fallback == nil {
		fallback = PassThroughBodyFactory{}
	}
	return &bodyFactories{byID: byID, fallback: fallback}
}

func (b *bodyFactories) lookup(id string) (BodyFactory, error) {
	if id == "" {
		return b.fallback, nil
	}
	f, ok := b.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBodyFactory, id)
	}
	return f, nil
}
