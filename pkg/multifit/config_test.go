package multifit

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Finalize(t *testing.T) {
	c := NewConfig()
	require.NoError(t, c.Finalize())
	assert.True(t, c.useIteration)
	assert.True(t, c.useDChisq)

	tests := []struct {
		name string
		edit func(c *Config)
		want error
	}{
		{"no criteria", func(c *Config) { c.TerminationType = nil }, ErrNoTermination},
		{"unknown", func(c *Config) { c.TerminationType = []string{"vibes"} }, ErrUnknownTermination},
		{"zero iterations", func(c *Config) { c.IterationMax = 0 }, ErrBadIterationMax},
		{"zero threshold", func(c *Config) { c.DChisqThreshold = 0 }, ErrBadThreshold},
		{"iterations unused", func(c *Config) { c.TerminationType = []string{TerminateOnDChisq}; c.IterationMax = 0 }, nil},
		{"threshold unused", func(c *Config) { c.TerminationType = []string{TerminateOnIteration}; c.DChisqThreshold = -1 }, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewConfig()
			tt.edit(&c)
			err := c.Finalize()
			if tt.want == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.want)
			}
		})
	}

	_, err := NewFitter(Config{})
	assert.ErrorIs(t, err, ErrNoTermination)
}

func TestConfig_Defaults(t *testing.T) {
	c := Config{TerminationType: []string{TerminateOnIteration}, IterationMax: 3, NMinPix: -4}
	require.NoError(t, c.Finalize())
	assert.Equal(t, 0, c.NMinPix)
	assert.Equal(t, 1e-4, c.LambdaInit)
	assert.Equal(t, 8, c.MaxStepTrials)
	assert.Equal(t, 1e14, c.ConditionMax)
}

func TestLoadConfig(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "fit.yaml")
	require.NoError(t, os.WriteFile(filename, []byte("terminationType: [dChisq]\ndChisqThreshold: 0.01\nnMinPix: 20\n"), 0644))

	c, err := LoadConfig(filename)
	require.NoError(t, err)
	assert.Equal(t, []string{TerminateOnDChisq}, c.TerminationType)
	assert.Equal(t, 0.01, c.DChisqThreshold)
	assert.Equal(t, 20, c.NMinPix)
	assert.Equal(t, 5, c.IterationMax, "default kept")
	assert.False(t, c.useIteration)

	assert.Contains(t, c.AsYaml(), "nMinPix: 20")

	_, err = LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
