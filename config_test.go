package merger

import (
	"runtime"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readConfig(t *testing.T, yaml string) {
	t.Helper()
	viper.Reset()
	SetViperDefaults()
	viper.SetConfigType("yaml")
	require.NoError(t, viper.ReadConfig(strings.NewReader(yaml)))
}

func TestLoadConfig(t *testing.T) {
	readConfig(t, `
merge:
  inputdir: /data/run_0042
  padtable: pads.csv
  threshold: 40
  zerosuppress: true
  cachesize: 80
`)
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "/data/run_0042", cfg.InputDir)
	assert.Equal(t, 80, cfg.CacheSize)
	assert.Equal(t, 20, cfg.QueueSize, "defaults fill what the file leaves out")
	assert.Equal(t, "run.evt", cfg.Output)
	assert.Equal(t, "localhost:9000", cfg.DatabaseAddr)

	opt := cfg.Options(nil)
	assert.Equal(t, runtime.NumCPU(), opt.Builders)
	assert.True(t, opt.Clean.UseThreshold)
	assert.Equal(t, int16(40), opt.Clean.Threshold)
	assert.True(t, opt.Clean.ZeroSuppress)
}

func TestConfigThresholdDisabled(t *testing.T) {
	readConfig(t, "merge:\n  inputs: [a.graw, b.graw]\n  padtable: pads.npy\n")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, []string{"a.graw", "b.graw"}, cfg.Inputs)
	assert.False(t, cfg.Options(nil).Clean.UseThreshold)
}

func TestConfigValidate(t *testing.T) {
	for name, yaml := range map[string]string{
		"no input":       "merge:\n  padtable: p.csv\n",
		"no pad table":   "merge:\n  inputdir: d\n",
		"high threshold": "merge:\n  inputdir: d\n  padtable: p.csv\n  threshold: 5000\n",
		"negative":       "merge:\n  inputdir: d\n  padtable: p.csv\n  builders: -1\n",
	} {
		readConfig(t, yaml)
		_, err := LoadConfig()
		assert.Error(t, err, name)
	}
	viper.Reset()
}
