// Provider-backed producers compute a Reply per invocation by calling a provider method
// The method is matched once, by parameter types, and invoked fresh on every call
package mockcall

import (
	"fmt"
	"reflect"
	"strings"
)

// ProviderFactory instantiates a provider. It is called once, when the site resolves.
// Methods with pointer receivers are only visible if the factory returns a pointer.
type ProviderFactory func() (any, error)

// ProviderOf returns a factory that always yields p.
func ProviderOf(p any) ProviderFactory {
	return func() (any, error) { return p, nil }
}

var (
	replyType = reflect.TypeFor[Reply]()
	errorType = reflect.TypeFor[error]()
)

type providerProducer struct {
	name      string
	method    reflect.Value
	params    []reflect.Type
	returnErr bool
	bodies    *bodyFactories
}

func newProviderProducer(factory ProviderFactory, params []reflect.Type, bodies *bodyFactories) (p *providerProducer, err error) {
	defer func() {
		if r := recover(); r != nil {
			p, err = nil, fmt.Errorf("%w: %v", ErrProviderInstantiate, r)
		}
	}()

	instance, err := factory()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProviderInstantiate, err)
	}
	if instance == nil {
		return nil, fmt.Errorf("%w: factory returned nil", ErrProviderInstantiate)
	}

	v := reflect.ValueOf(instance)
	t := v.Type()
	var (
		matches []string
		method  reflect.Value
		withErr bool
	)
	for i := range t.NumMethod() {
		m := v.Method(i)
		ok, returnsErr := matchesSignature(m.Type(), params)
		if !ok {
			continue
		}
		matches = append(matches, t.Method(i).Name)
		method, withErr = m, returnsErr
	}

	switch len(matches) {
	case 1:
	case 0:
		return nil, fmt.Errorf("%w: %s has no method taking (%s) and returning Reply", ErrProviderMethod, t, typeList(params))
	default:
		return nil, fmt.Errorf("%w: %s has %d candidates: %s", ErrProviderMethod, t, len(matches), strings.Join(matches, ", "))
	}

	return &providerProducer{
		name:      t.String() + "." + matches[0],
		method:    method,
		params:    params,
		returnErr: withErr,
		bodies:    bodies,
	}, nil
}

func matchesSignature(mt reflect.Type, params []reflect.Type) (ok, returnsErr bool) {
	if mt.IsVariadic() || mt.NumIn() != len(params) {
		return false, false
	}
	for i, p := range params {
		if mt.In(i) != p {
			return false, false
		}
	}
	switch mt.NumOut() {
	case 1:
		return mt.Out(0) == replyType, false
	case 2:
		return mt.Out(0) == replyType && mt.Out(1) == errorType, true
	default:
		return false, false
	}
}

func typeList(types []reflect.Type) string {
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = t.String()
	}
	return strings.Join(names, ", ")
}

func (p *providerProducer) Produce(args []any) (params *ResponseParams, err error) {
	in, err := p.arguments(args)
	if err != nil {
		return nil, err
	}

	defer func() {
		if r := recover(); r != nil {
			params, err = nil, fmt.Errorf("%w: %w: provider %s: %v", ErrProduce, ErrPanic, p.name, r)
		}
	}()

	out := p.method.Call(in)
	if p.returnErr && !out[1].IsNil() {
		return nil, fmt.Errorf("%w: provider %s: %w", ErrProduce, p.name, out[1].Interface().(error))
	}
	reply := out[0].Interface().(Reply)

	factory, err := p.bodies.lookup(reply.BodyFactory)
	if err != nil {
		return nil, fmt.Errorf("%w: provider %s: %w", ErrProduce, p.name, err)
	}
	return paramsFromReply(reply, factory), nil
}

func (p *providerProducer) arguments(args []any) ([]reflect.Value, error) {
	if len(args) != len(p.params) {
		return nil, fmt.Errorf("%w: provider %s takes %d arguments, got %d", ErrProduce, p.name, len(p.params), len(args))
	}
	in := make([]reflect.Value, len(args))
	for i, arg := range args {
		want := p.params[i]
		if arg == nil {
			switch want.Kind() {
			case reflect.Interface, reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
				in[i] = reflect.Zero(want)
				continue
			default:
				return nil, fmt.Errorf("%w: argument %d: nil for %s", ErrProduce, i, want)
			}
		}
		v := reflect.ValueOf(arg)
		if !v.Type().AssignableTo(want) {
			return nil, fmt.Errorf("%w: argument %d: %s is not assignable to %s", ErrProduce, i, v.Type(), want)
		}
		in[i] = v
	}
	return in, nil
}
