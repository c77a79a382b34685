package config

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/agentic-research/derivata/internal/nodeclass"
	"github.com/agentic-research/derivata/internal/override"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefault(t *testing.T) {
	c := Default()
	assert.Equal(t, "http://localhost:8188", c.ComfyUIURL)
	assert.Equal(t, "127.0.0.1:8189", c.Addr())
	assert.Equal(t, override.DefaultFilenamePrefix, c.Prefix)
	assert.Equal(t, override.SortLexical, c.TextSort)
	assert.Equal(t, override.CreateIntermediates, c.PathPolicy)
	assert.Empty(t, c.DBPath, "no database unless one is configured")
}

func TestApplyEnv(t *testing.T) {
	c := Default()
	err := c.ApplyEnv(envMap(map[string]string{
		EnvComfyUIURL: "http://gpu:8188",
		EnvAPIPort:    "9000",
		EnvTextSort:   "NUMERIC",
		EnvPathPolicy: "require",
		EnvPrefix:     "",
	}))
	require.NoError(t, err)
	assert.Equal(t, "http://gpu:8188", c.ComfyUIURL)
	assert.Equal(t, 9000, c.APIPort)
	assert.Equal(t, override.SortNumeric, c.TextSort)
	assert.Equal(t, override.RequireIntermediates, c.PathPolicy)
	assert.Equal(t, override.DefaultFilenamePrefix, c.Prefix, "empty values are ignored")
}

func TestApplyEnv_Invalid(t *testing.T) {
	for key, val := range map[string]string{
		EnvAPIPort:    "70000",
		EnvTextSort:   "random",
		EnvPathPolicy: "maybe",
	} {
		t.Run(key, func(t *testing.T) {
			err := Default().ApplyEnv(envMap(map[string]string{key: val}))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalid))
			var cfgErr *Error
			require.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, val, cfgErr.Value)
			assert.Equal(t, "env", cfgErr.Source)
		})
	}
}

const sample = `
comfyui_url = "http://gpu-box:8188"
api_port    = 9100
text_sort   = "numeric"
path_policy = "require"

param "lora_strength" {
  hint = "float"
}

param "seed" {
  hint = "string"
}

node_class "KSamplerAdvanced" {
  capabilities = ["sampler"]
}

node_class "SaveAnimatedWEBP" {
  capabilities = ["produces_file"]
}
`

func TestApplySource(t *testing.T) {
	c := Default()
	require.NoError(t, c.ApplySource([]byte(sample), "derivata.hcl"))

	assert.Equal(t, "http://gpu-box:8188", c.ComfyUIURL)
	assert.Equal(t, 9100, c.APIPort)
	assert.Equal(t, "127.0.0.1", c.APIHost, "absent attributes keep defaults")
	assert.Equal(t, override.SortNumeric, c.TextSort)
	assert.Equal(t, override.RequireIntermediates, c.PathPolicy)

	spec, ok := c.Params.Lookup("lora_strength")
	require.True(t, ok)
	assert.Equal(t, override.HintFloat, spec.Hint)
	spec, _ = c.Params.Lookup("seed")
	assert.Equal(t, override.HintString, spec.Hint)

	assert.True(t, c.Classes.Of("KSamplerAdvanced").Has(nodeclass.Sampler))
	assert.True(t, c.Classes.Of("SaveAnimatedWEBP").Has(nodeclass.ProducesFile))
	assert.True(t, c.Classes.Of("KSampler").Has(nodeclass.Sampler))
}

func TestApplySource_Errors(t *testing.T) {
	cases := map[string]string{
		"syntax":     `comfyui_url = `,
		"unknown":    `colour = "red"`,
		"hint":       "param \"x\" {\n  hint = \"decimal\"\n}\n",
		"capability": "node_class \"X\" {\n  capabilities = [\"flying\"]\n}\n",
		"sort":       `text_sort = "random"`,
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, Default().ApplySource([]byte(src), "bad.hcl"))
		})
	}
}

func TestApplyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "derivata.hcl")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))

	c := Default()
	require.NoError(t, c.ApplyFile(path))
	assert.Equal(t, path, c.File)

	assert.Error(t, Default().ApplyFile(filepath.Join(t.TempDir(), "missing.hcl")))
}

func TestLoad_EnvBeatsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "derivata.hcl")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))
	t.Setenv(EnvComfyUIURL, "http://from-env:8188")

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://from-env:8188", c.ComfyUIURL)
	assert.Equal(t, 9100, c.APIPort)
}

func TestEngine_CopiesTables(t *testing.T) {
	c := Default()
	c.Prefix = "batch"
	c.TextSort = override.SortNumeric
	e := c.Engine()
	assert.Equal(t, "batch", e.DefaultPrefix)
	assert.Equal(t, override.SortNumeric, e.TextSort)

	c.Classes.Register("Late", nodeclass.Sampler)
	assert.False(t, e.Classes.Of("Late").Has(nodeclass.Sampler))
}

func TestPrint(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Default().Print(&buf))
	out := buf.String()
	assert.Contains(t, out, "COMFYUI_URL=http://localhost:8188\n")
	assert.Contains(t, out, "API_PORT=8189\n")
	assert.Contains(t, out, "DERIVATA_TEXT_SORT=lexical\n")
	assert.NotContains(t, out, "# config file")
}
