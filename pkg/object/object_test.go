package object

import (
	"testing"
	"time"

	"github.com/cuemby/hive/pkg/apierrors"
	"github.com/cuemby/hive/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePath(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "web", want: "root/svc/web"},
		{in: "cfg/settings", want: "root/cfg/settings"},
		{in: "prod/svc/db", want: "prod/svc/db"},
		{in: "Prod/SVC/DB", want: "prod/svc/db"},
		{in: "prod/bogus/db", wantErr: true},
		{in: "a/b/c/d", wantErr: true},
		{in: "", wantErr: true},
		{in: "prod/svc/-db", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			p, err := ParsePath(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.String())
		})
	}
}

func TestNamespaceOf(t *testing.T) {
	assert.Equal(t, "prod", NamespaceOf("prod/svc/db"))
	assert.Equal(t, "root", NamespaceOf("db"))
	assert.Equal(t, "", NamespaceOf("a/b/c/d"))
}

const webConfig = `
nodes: [n1, n2]
orchestrate: ha
constraints:
  zone: a
subsets:
  app:web:
    parallel: true
resources:
  fs#1:
    type: directory
    path: /srv/web
  app#1:
    type: simple
    subset: web
    start: /usr/bin/web
    restart: 2
    timeout: 10s
`

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(webConfig))
	require.NoError(t, err)
	cfg.Normalize()

	assert.Equal(t, types.TopologyFailover, cfg.Topology)
	assert.Equal(t, types.OrchestrateHA, cfg.Orchestrate)
	assert.Equal(t, []string{"app#1", "fs#1"}, cfg.RIDs())

	app := cfg.Resources["app#1"]
	assert.Equal(t, "simple", app.Type)
	assert.Equal(t, "web", app.Subset)
	assert.Equal(t, 2, app.Restart)
	assert.Equal(t, 10*time.Second, app.Timeout)
	assert.Equal(t, "/usr/bin/web", app.Options["start"])
	assert.Equal(t, DefaultResourceTimeout, cfg.Resources["fs#1"].Timeout)
	assert.True(t, cfg.Subsets["app:web"].Parallel)

	require.NoError(t, Validate(KindSvc, cfg))
}

func TestInstanceConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(webConfig))
	require.NoError(t, err)

	ic := cfg.InstanceConfig("root/svc/web")
	assert.Equal(t, "root/svc/web", ic.Path)
	assert.Equal(t, []string{"n1", "n2"}, ic.Nodes)
	assert.NotEmpty(t, ic.Checksum)
	assert.Equal(t, cfg.Checksum(), ic.Checksum)

	cfg.Nodes = append(cfg.Nodes, "n3")
	assert.NotEqual(t, ic.Checksum, cfg.Checksum())
}

func TestConstraintsMet(t *testing.T) {
	cfg := &Config{Constraints: map[string]string{"zone": "a"}}
	assert.True(t, cfg.ConstraintsMet(map[string]string{"zone": "a", "rack": "1"}))
	assert.False(t, cfg.ConstraintsMet(map[string]string{"zone": "b"}))
	assert.False(t, cfg.ConstraintsMet(nil))
	assert.True(t, (&Config{}).ConstraintsMet(nil))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		kind      Kind
		cfg       *Config
		wantField string
	}{
		{
			name:      "bad topology",
			kind:      KindSvc,
			cfg:       &Config{Topology: "ring"},
			wantField: "topology",
		},
		{
			name:      "bad rid",
			kind:      KindSvc,
			cfg:       &Config{Resources: map[string]ResourceConfig{"web": {Type: "simple"}}},
			wantField: "web",
		},
		{
			name:      "unknown family",
			kind:      KindSvc,
			cfg:       &Config{Resources: map[string]ResourceConfig{"vm#1": {Type: "kvm"}}},
			wantField: "vm#1",
		},
		{
			name: "unknown keyword",
			kind: KindSvc,
			cfg: &Config{Resources: map[string]ResourceConfig{
				"fs#1": {Type: "directory", Options: map[string]string{"path": "/x", "size": "1G"}},
			}},
			wantField: "fs#1.size",
		},
		{
			name:      "missing required keyword",
			kind:      KindSvc,
			cfg:       &Config{Resources: map[string]ResourceConfig{"app#1": {Type: "simple"}}},
			wantField: "app#1.start",
		},
		{
			name:      "data on a service",
			kind:      KindSvc,
			cfg:       &Config{Data: map[string]string{"k": "v"}},
			wantField: "data",
		},
		{
			name:      "unknown subset family",
			kind:      KindSvc,
			cfg:       &Config{Subsets: map[string]types.SubsetConfig{"vm:web": {Parallel: true}}},
			wantField: "subsets",
		},
		{
			name:      "resources on a cfg",
			kind:      KindCfg,
			cfg:       &Config{Resources: map[string]ResourceConfig{"fs#1": {Type: "directory"}}},
			wantField: "resources",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.kind, tt.cfg)
			require.Error(t, err)

			var apiErr *apierrors.Error
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, apierrors.KindBadRequest, apiErr.Kind)
			assert.Equal(t, tt.wantField, apiErr.Field)
		})
	}
}

func TestKeywords(t *testing.T) {
	svc := Keywords(KindSvc)
	require.NotEmpty(t, svc)
	for _, kw := range svc {
		assert.NotEqual(t, "data", kw.Section)
	}

	cfg := Keywords(KindCfg)
	require.Len(t, cfg, 1)
	assert.Equal(t, "data", cfg[0].Section)
}

func TestFamily(t *testing.T) {
	assert.Equal(t, "fs", Family("fs#1"))
	assert.Equal(t, "app", Family("app"))
	assert.Equal(t, "app:web", SubsetKey("app", "web"))
	assert.Equal(t, "app", SubsetKey("app", ""))

	family, subset := ParseSubsetKey("app:web")
	assert.Equal(t, "app", family)
	assert.Equal(t, "web", subset)
	family, subset = ParseSubsetKey("fs")
	assert.Equal(t, "fs", family)
	assert.Empty(t, subset)
}

func TestValidateSubsets(t *testing.T) {
	cfg := &Config{
		Resources: map[string]ResourceConfig{
			"app#1": {Type: "simple", Subset: "web", Options: map[string]string{"start": "true"}},
			"app#2": {Type: "simple", Subset: "web", Options: map[string]string{"start": "true"}},
		},
		Subsets: map[string]types.SubsetConfig{"app:web": {Parallel: true}, "fs": {}},
	}
	assert.NoError(t, Validate(KindSvc, cfg))
}

func TestBuiltinCatalog(t *testing.T) {
	c, err := NewBuiltinCatalog()
	require.NoError(t, err)

	list, err := c.List()
	require.NoError(t, err)
	require.NotEmpty(t, list)

	for _, tmpl := range list {
		t.Run(tmpl.Name, func(t *testing.T) {
			require.True(t, tmpl.Kind.IsValid())
			assert.NoError(t, Validate(tmpl.Kind, tmpl.Config))
		})
	}

	web, err := c.Get("web")
	require.NoError(t, err)
	assert.Len(t, web.Config.Resources, 3)

	_, err = c.Get("nope")
	assert.True(t, apierrors.Is(err, apierrors.KindNotFound))
}

type memTemplates map[string]*Template

func (m memTemplates) ListTemplates() ([]*Template, error) {
	var result []*Template
	for _, t := range m {
		result = append(result, t)
	}
	return result, nil
}

func (m memTemplates) GetTemplate(name string) (*Template, error) {
	t, ok := m[name]
	if !ok {
		return nil, apierrors.NotFound("template %s not found", name)
	}
	return t, nil
}

func TestCatalogsLookup(t *testing.T) {
	builtin, err := NewBuiltinCatalog()
	require.NoError(t, err)
	local := NewLocalCatalog(memTemplates{
		"web": {Name: "web", Kind: KindSvc, Description: "overridden", Config: &Config{}},
	})
	cs := NewCatalogs(builtin, local)

	assert.Equal(t, []string{"builtin", "local"}, cs.Names())

	tmpl, err := cs.Template("", "web")
	require.NoError(t, err)
	assert.Equal(t, "overridden", tmpl.Description)

	tmpl, err = cs.Template("builtin", "web")
	require.NoError(t, err)
	assert.NotEqual(t, "overridden", tmpl.Description)

	_, err = cs.Template("remote", "web")
	assert.True(t, apierrors.Is(err, apierrors.KindNotFound))
	_, err = cs.Template("", "nope")
	assert.True(t, apierrors.Is(err, apierrors.KindNotFound))
}
