package mockcall

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticProducerCachesParamsPerVariant(t *testing.T) {
	t.Parallel()

	a := &ResponseVariant{Body: "A"}
	b := &ResponseVariant{Body: "B"}
	p, err := newStaticProducer([]*ResponseVariant{a, b}, StrategyCircular, nil, newBodyFactories(nil, nil))
	require.NoError(t, err)

	first, err := p.Produce(nil)
	require.NoError(t, err)
	second, err := p.Produce(nil)
	require.NoError(t, err)
	third, err := p.Produce(nil)
	require.NoError(t, err)

	assert.NotSame(t, first, second)
	assert.Same(t, first, third, "the same variant must yield the same params instance")
	assert.Equal(t, "A", first.Body().Input())
	assert.Equal(t, "B", second.Body().Input())
}

func TestStaticProducerEqualVariantsCachedSeparately(t *testing.T) {
	t.Parallel()

	a := &ResponseVariant{Body: "same"}
	b := &ResponseVariant{Body: "same"}
	p, err := newStaticProducer([]*ResponseVariant{a, b}, StrategyCircular, nil, newBodyFactories(nil, nil))
	require.NoError(t, err)

	first, _ := p.Produce(nil)
	second, _ := p.Produce(nil)
	assert.NotSame(t, first, second)
}

func TestStaticProducerErrors(t *testing.T) {
	t.Parallel()

	bodies := newBodyFactories(nil, nil)

	_, err := newStaticProducer(nil, StrategySequential, nil, bodies)
	assert.ErrorIs(t, err, ErrNoResponses)

	_, err = newStaticProducer([]*ResponseVariant{{BodyFactory: "missing"}}, StrategySequential, nil, bodies)
	assert.ErrorIs(t, err, ErrUnknownBodyFactory)

	_, err = newStaticProducer([]*ResponseVariant{nil}, StrategySequential, nil, bodies)
	assert.Error(t, err)
}

func TestStaticProducerConcurrentProduce(t *testing.T) {
	t.Parallel()

	variants := []*ResponseVariant{{Body: "A"}, {Body: "B"}, {Body: "C"}}
	p, err := newStaticProducer(variants, StrategyRandom, NewRandomSource(5), newBodyFactories(nil, nil))
	require.NoError(t, err)

	var (
		mu   sync.Mutex
		seen = map[string]*ResponseParams{}
		wg   sync.WaitGroup
	)
	for range 8 {
		wg.Go(func() {
			for range 100 {
				params, err := p.Produce(nil)
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				if prev, ok := seen[params.Body().Input()]; ok {
					assert.Same(t, prev, params)
				} else {
					seen[params.Body().Input()] = params
				}
				mu.Unlock()
			}
		})
	}
	wg.Wait()
}

func TestNoResponseProducer(t *testing.T) {
	t.Parallel()

	p := newNoResponseProducer()
	params, err := p.Produce([]any{"ignored"})
	require.NoError(t, err)
	assert.Equal(t, 200, params.Code())
	assert.Equal(t, "OK", params.Message())
	assert.Equal(t, "", readSource(t, params.Body()))
}
