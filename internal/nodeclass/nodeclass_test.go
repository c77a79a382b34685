package nodeclass

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	tbl := Default()
	assert.True(t, tbl.Of("KSampler").Has(Sampler))
	assert.True(t, tbl.Of("CLIPTextEncode").Has(TextEncoder))
	assert.True(t, tbl.Of("SaveImage").Has(ProducesFile))
	assert.False(t, tbl.Of("KSampler").Has(TextEncoder))
	assert.Equal(t, Capability(0), tbl.Of("VAEDecode"))
}

func TestRegister_Accumulates(t *testing.T) {
	tbl := Default()
	tbl.Register("KSamplerAdvanced", Sampler)
	tbl.Register("KSamplerAdvanced", ProducesFile)

	caps := tbl.Of("KSamplerAdvanced")
	assert.True(t, caps.Has(Sampler))
	assert.True(t, caps.Has(ProducesFile))
	assert.True(t, caps.Has(Sampler|ProducesFile))
	assert.Equal(t, []string{"KSampler", "KSamplerAdvanced"}, tbl.Classes(Sampler))
}

func TestHas_ZeroNeverMatches(t *testing.T) {
	assert.False(t, Sampler.Has(0))
}

func TestClone_Independent(t *testing.T) {
	base := Default()
	cp := base.Clone()
	cp.Register("SaveImageWebsocket", ProducesFile)
	assert.Equal(t, Capability(0), base.Of("SaveImageWebsocket"))
	assert.True(t, cp.Of("SaveImageWebsocket").Has(ProducesFile))
}

func TestParseCapability(t *testing.T) {
	c, err := ParseCapability(" Text_Encoder ")
	require.NoError(t, err)
	assert.Equal(t, TextEncoder, c)

	_, err = ParseCapability("upscaler")
	assert.Error(t, err)

	assert.Equal(t, "produces_file|sampler", (Sampler | ProducesFile).String())
	assert.Equal(t, "none", Capability(0).String())
}

func TestNilTable(t *testing.T) {
	var tbl *Table
	assert.Equal(t, Capability(0), tbl.Of("KSampler"))
}
