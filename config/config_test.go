package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/slackhq/ethdma/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Load(t *testing.T) {
	l := test.NewLogger()
	dir := t.TempDir()

	// invalid yaml
	c := NewC(l)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "01.yaml"), []byte(" invalid yaml"), 0644))
	require.Error(t, c.Load(dir))

	// simple multi config merge
	require.NoError(t, os.WriteFile(filepath.Join(dir, "01.yaml"), []byte("dma:\n  rx_ring_len: 4\nmac:\n  filter:\n    extra_addresses: [\"02:00:00:00:00:02\"]\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "02.yml"), []byte("dma:\n  rx_ring_len: 8\nmac:\n  filter:\n    extra_addresses: [\"02:00:00:00:00:03\"]\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignored.txt"), []byte("dma: nope"), 0644))

	c = NewC(l)
	require.NoError(t, c.Load(dir))
	assert.Len(t, c.Files(), 2)
	assert.Equal(t, 8, c.GetInt("dma.rx_ring_len", 16))
	assert.ElementsMatch(t, []string{"02:00:00:00:00:02", "02:00:00:00:00:03"}, c.GetStringSlice("mac.filter.extra_addresses", nil))

	c = NewC(l)
	require.Error(t, c.Load(filepath.Join(dir, "missing")))
}

func TestConfig_LoadString(t *testing.T) {
	c := NewC(test.NewLogger())
	require.Error(t, c.LoadString(""))
	require.NoError(t, c.LoadString("outer:\n  inner: hi"))
	assert.Equal(t, "hi", c.GetString("outer.inner", ""))
}

func TestConfig_Get(t *testing.T) {
	l := test.NewLogger()
	// test simple type
	c := NewC(l)
	c.Settings["mac"] = map[string]any{"address": "hi"}
	assert.Equal(t, "hi", c.Get("mac.address"))

	// test complex type
	inner := []map[string]any{{"port": "1", "code": "2"}}
	c.Settings["mac"] = map[string]any{"filter": inner}
	assert.EqualValues(t, inner, c.Get("mac.filter"))

	// test missing
	assert.Nil(t, c.Get("mac.nope"))
	assert.False(t, c.IsSet("mac.nope"))
	assert.True(t, c.IsSet("mac.filter"))
}

func TestConfig_GetStringSlice(t *testing.T) {
	l := test.NewLogger()
	c := NewC(l)
	c.Settings["slice"] = []any{"one", "two"}
	assert.Equal(t, []string{"one", "two"}, c.GetStringSlice("slice", []string{}))
}

func TestConfig_GetBool(t *testing.T) {
	l := test.NewLogger()
	c := NewC(l)
	c.Settings["bool"] = true
	assert.Equal(t, true, c.GetBool("bool", false))

	c.Settings["bool"] = "true"
	assert.Equal(t, true, c.GetBool("bool", false))

	c.Settings["bool"] = false
	assert.Equal(t, false, c.GetBool("bool", true))

	c.Settings["bool"] = "false"
	assert.Equal(t, false, c.GetBool("bool", true))

	c.Settings["bool"] = "Y"
	assert.Equal(t, true, c.GetBool("bool", false))

	c.Settings["bool"] = "yEs"
	assert.Equal(t, true, c.GetBool("bool", false))

	c.Settings["bool"] = "N"
	assert.Equal(t, false, c.GetBool("bool", true))

	c.Settings["bool"] = "nO"
	assert.Equal(t, false, c.GetBool("bool", true))
}

func TestConfig_GetByteSize(t *testing.T) {
	c := NewC(test.NewLogger())
	assert.Equal(t, uint64(1536), c.GetByteSize("dma.buffer_size", 1536))

	c.Settings["dma"] = map[string]any{"buffer_size": "1.5KiB"}
	assert.Equal(t, uint64(1536), c.GetByteSize("dma.buffer_size", 0))

	c.Settings["dma"] = map[string]any{"buffer_size": 2048}
	assert.Equal(t, uint64(2048), c.GetByteSize("dma.buffer_size", 0))

	c.Settings["dma"] = map[string]any{"buffer_size": "lots"}
	assert.Equal(t, uint64(7), c.GetByteSize("dma.buffer_size", 7))
}

func TestConfig_GetNumbers(t *testing.T) {
	c := NewC(test.NewLogger())
	c.Settings["ptp"] = map[string]any{"hclk_hz": 168000000, "bad": -1}
	assert.Equal(t, uint32(168000000), c.GetUint32("ptp.hclk_hz", 0))
	assert.Equal(t, uint32(3), c.GetUint32("ptp.bad", 3))
	assert.Equal(t, 5, c.GetInt("ptp.missing", 5))

	c.Settings["netstack"] = map[string]any{"poll_interval": "10ms"}
	assert.Equal(t, 10*time.Millisecond, c.GetDuration("netstack.poll_interval", time.Second))
	assert.Equal(t, time.Second, c.GetDuration("netstack.missing", time.Second))
}
