// Params producers: the per-site source of ResponseParams for each invocation
// Static lists memoise params per variant; the no-response producer returns defaults
package mockcall

import (
	"fmt"
	"sync"
)

// ParamsProducer yields the params for one invocation. args are the call-site arguments.
type ParamsProducer interface {
	Produce(args []any) (*ResponseParams, error)
}

// staticProducer walks a configured response list.
type staticProducer struct {
	seq       Sequencer[*ResponseVariant]
	factories map[*ResponseVariant]BodyFactory

	mu    sync.Mutex
	cache map[*ResponseVariant]*ResponseParams
}

func newStaticProducer(variants []*ResponseVariant, strategy Strategy, rnd RandomSource, bodies *bodyFactories) (*staticProducer, error) {
	factories := make(map[*ResponseVariant]BodyFactory, len(variants))
	for i, v := range variants {
		if v == nil {
			return nil, fmt.Errorf("response %d is nil", i)
		}
		f, err := bodies.lookup(v.BodyFactory)
		if err != nil {
			return nil, err
		}
		factories[v] = f
	}
	seq, err := NewSequencer(strategy, variants, rnd)
	if err != nil {
		return nil, err
	}
	return &staticProducer{
		seq:       seq,
		factories: factories,
		cache:     make(map[*ResponseVariant]*ResponseParams, len(variants)),
	}, nil
}

func (p *staticProducer) Produce([]any) (*ResponseParams, error) {
	v := p.seq.Next()

	p.mu.Lock()
	defer p.mu.Unlock()
	if params, ok := p.cache[v]; ok {
		return params, nil
	}
	params := paramsFromVariant(v, p.factories[v])
	p.cache[v] = params
	return params, nil
}

// noResponseProducer serves sites that are mocked without any responses.
type noResponseProducer struct {
	params *ResponseParams
}

func newNoResponseProducer() *noResponseProducer {
	return &noResponseProducer{params: DefaultParams(NewBodySource(PassThroughBodyFactory{}, ""))}
}

func (p *noResponseProducer) Produce([]any) (*ResponseParams, error) {
	return p.params, nil
}
