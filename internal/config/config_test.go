package config

import (
	"io/ioutil"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
	assert.Equal(t, "FilmMate Tripod", c.DeviceName)
	assert.Equal(t, uint16(0x55), c.AppID)
	assert.Equal(t, uint16(40), c.HandleBase)
	assert.Equal(t, 5*time.Second, c.Demo.Interval)
}

func TestParse(t *testing.T) {
	c, err := Parse([]byte(`
device_name: Bench Tripod
app_id: 0x42
log_level: debug
log_format: json
demo:
  count: 3
  interval: 250ms
  seed: 7
`))
	require.NoError(t, err)

	want := Default()
	want.DeviceName = "Bench Tripod"
	want.AppID = 0x42
	want.LogLevel = "debug"
	want.LogFormat = "json"
	want.Demo.Count = 3
	want.Demo.Interval = 250 * time.Millisecond
	want.Demo.Seed = 7
	assert.Equal(t, want, c)

	l, err := c.Level()
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, l)
	f, err := c.Formatter()
	require.NoError(t, err)
	assert.IsType(t, &logrus.JSONFormatter{}, f)
}

func TestParseDemoMaxLimit(t *testing.T) {
	c, err := Parse([]byte("demo:\n  max: 2147483647\n"))
	require.NoError(t, err)
	assert.Equal(t, int32(math.MaxInt32), c.Demo.Max)
}

func TestParseEmpty(t *testing.T) {
	c, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
}

func TestParseErrors(t *testing.T) {
	cases := []struct {
		yaml string
		want string
	}{
		{yaml: "device_nam: x", want: "not found"},
		{yaml: "app_id: 0x10000", want: "parse"},
		{yaml: "device_name: ''", want: "device_name is empty"},
		{yaml: "device_name: " + strings.Repeat("x", 30), want: "device_name is 30 bytes"},
		{yaml: "handle_base: 0", want: "handle_base must be positive"},
		{yaml: "handle_base: 0xfffe", want: "no room"},
		{yaml: "tx_power: 20", want: "tx_power 20 out of range"},
		{yaml: "log_level: loud", want: "log_level"},
		{yaml: "log_format: xml", want: "log_format"},
		{yaml: "demo: {count: -1}", want: "demo.count"},
		{yaml: "demo: {interval: 0s}", want: "demo.interval"},
		{yaml: "demo: {max: 0}", want: "demo.max"},
	}

	for _, tt := range cases {
		_, err := Parse([]byte(tt.yaml))
		if assert.Error(t, err, tt.yaml) {
			assert.Contains(t, err.Error(), tt.want, tt.yaml)
		}
	}
}

func TestLoad(t *testing.T) {
	dir, err := ioutil.TempDir("", "tripod")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "tripod.yaml")
	require.NoError(t, ioutil.WriteFile(path, []byte("tx_power: -3\n"), 0600))
	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, int8(-3), c.TxPower)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
