// Tests for YAML site configuration loading and validation
// Covers valid configs, invalid configs, and conversion into engine options
package mockcall

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "sites.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const fullConfig = `
defaults:
  behavior: 20ms +/- 5ms
  body_factory: passthrough
sites:
  users.list:
    route: GET /users
    strategy: circular
    behavior: 5ms
    responses:
      - body: '[{"id":1}]'
        headers:
          - name: Content-Type
            value: application/json
      - code: 503
        message: Busy
  users.get:
    provider: users
    params: [int]
  orders.create:
    enabled: false
    route: POST /orders
`

func TestLoadConfig(t *testing.T) {
	t.Parallel()

	t.Run("full config", func(t *testing.T) {
		t.Parallel()
		cfg, err := LoadConfig(writeTestConfig(t, fullConfig))
		require.NoError(t, err)
		require.NoError(t, ValidateConfig(cfg))

		assert.Equal(t, "20ms +/- 5ms", cfg.Defaults.Behavior)
		assert.Equal(t, "passthrough", cfg.Defaults.BodyFactory)

		require.Len(t, cfg.Sites, 3)
		assert.Equal(t, "orders.create", cfg.Sites[0].Name, "sites are sorted by name")
		assert.False(t, cfg.Sites[0].Enabled)
		assert.Equal(t, "users.get", cfg.Sites[1].Name)
		assert.True(t, cfg.Sites[1].Enabled, "sites are enabled by default")
		assert.Equal(t, []string{"int"}, cfg.Sites[1].Params)

		list := cfg.Sites[2]
		assert.Equal(t, "users.list", list.Name)
		assert.Equal(t, "circular", list.Strategy)
		require.Len(t, list.Responses, 2)
		assert.Equal(t, 503, list.Responses[1].Code)
		assert.Equal(t, "Busy", list.Responses[1].Message)
		require.Len(t, list.Responses[0].Headers, 1)
		assert.Equal(t, "application/json", list.Responses[0].Headers[0].Value)
	})

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()
		_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "reading config")
	})

	t.Run("malformed yaml", func(t *testing.T) {
		t.Parallel()
		_, err := ParseConfig([]byte("sites: [unclosed"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "parsing config")
	})
}

func TestValidateConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "no sites",
			yaml:    "defaults: {behavior: 1s}\n",
			wantErr: "at least one site",
		},
		{
			name: "unknown strategy",
			yaml: `
sites:
  a:
    strategy: shuffle
`,
			wantErr: "Strategy",
		},
		{
			name: "responses and provider",
			yaml: `
sites:
  a:
    provider: users
    responses:
      - body: x
`,
			wantErr: "mutually exclusive",
		},
		{
			name: "bad behavior",
			yaml: `
sites:
  a:
    behavior: soon
`,
			wantErr: "invalid behavior",
		},
		{
			name: "bad default behavior",
			yaml: `
defaults:
  behavior: 1s +/- -1s
sites:
  a: {}
`,
			wantErr: "defaults",
		},
		{
			name: "status code out of range",
			yaml: `
sites:
  a:
    responses:
      - code: 700
`,
			wantErr: "Code",
		},
		{
			name: "header without name",
			yaml: `
sites:
  a:
    responses:
      - headers:
          - value: x
`,
			wantErr: "Name",
		},
		{
			name: "unknown param type",
			yaml: `
sites:
  a:
    provider: p
    params: [uuid]
`,
			wantErr: "unknown parameter type",
		},
		{
			name: "malformed route",
			yaml: `
sites:
  a:
    route: /users
`,
			wantErr: "METHOD /path",
		},
		{
			name: "duplicate route",
			yaml: `
sites:
  a:
    route: GET /users
  b:
    route: get /users
`,
			wantErr: "already bound",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg, err := ParseConfig([]byte(tt.yaml))
			require.NoError(t, err)
			err = ValidateConfig(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfigOptions(t *testing.T) {
	t.Parallel()

	cfg, err := ParseConfig([]byte(fullConfig))
	require.NoError(t, err)
	require.NoError(t, ValidateConfig(cfg))

	opts, err := cfg.Options(nil, NewRandomSource(1))
	require.NoError(t, err)

	require.NotNil(t, opts.DefaultBehavior)
	b, ok := opts.DefaultBehavior.(*UniformBehavior)
	require.True(t, ok)
	assert.Equal(t, 20*time.Millisecond, b.Mean())
	assert.Equal(t, 5*time.Millisecond, b.Deviation())
	assert.IsType(t, PassThroughBodyFactory{}, opts.DefaultBodyFactory)

	list := opts.Sites["users.list"]
	assert.True(t, list.Enabled)
	assert.True(t, list.Circular)
	assert.False(t, list.Sequential)
	assert.Equal(t, "GET /users", list.Route)
	require.Len(t, list.Responses, 2)
	assert.NotSame(t, list.Responses[0], list.Responses[1])
	require.NotNil(t, list.Behavior)
	assert.Equal(t, 5*time.Millisecond, list.Behavior.Mean)

	get := opts.Sites["users.get"]
	assert.Equal(t, "users", get.Provider)
	assert.Equal(t, []reflect.Type{reflect.TypeFor[int]()}, get.Params)
	assert.True(t, get.Sequential, "sequential is the default strategy")

	assert.False(t, opts.Sites["orders.create"].Enabled)
}

func TestConfigOptionsUnknownDefaultFactory(t *testing.T) {
	t.Parallel()

	cfg, err := ParseConfig([]byte(`
defaults:
  body_factory: file
sites:
  a: {}
`))
	require.NoError(t, err)
	_, err = cfg.Options(nil, nil)
	assert.ErrorIs(t, err, ErrUnknownBodyFactory)
}

func TestConfigDrivesEngine(t *testing.T) {
	t.Parallel()

	cfg, err := ParseConfig([]byte(fullConfig))
	require.NoError(t, err)
	require.NoError(t, ValidateConfig(cfg))

	opts, err := cfg.Options(nil, NewRandomSource(1))
	require.NoError(t, err)
	opts.Providers = map[string]ProviderFactory{"users": ProviderOf(&userProvider{})}
	opts.DefaultBehavior = NoDelay
	for name, site := range opts.Sites {
		site.Behavior = nil
		opts.Sites[name] = site
	}
	opts.LoadEagerly = true

	e, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })

	list, err := Bind(e, "users.list", JSON[[]map[string]int]())
	require.NoError(t, err)
	call, err := list.Call()
	require.NoError(t, err)
	resp, err := call.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []map[string]int{{"id": 1}}, resp.Body)

	call, err = list.Call()
	require.NoError(t, err)
	resp, err = call.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code())
	assert.Equal(t, "Busy", resp.Message())
	_ = resp.ErrorBody.Close()

	get, err := Bind(e, "users.get", String)
	require.NoError(t, err)
	getCall, err := get.Call(5)
	require.NoError(t, err)
	user, err := getCall.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "user 5", user.Body)
}
