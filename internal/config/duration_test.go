package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDuration_UnmarshalYAML(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input   string
		want    time.Duration
		wantErr bool
	}{
		{input: `d: 30s`, want: 30 * time.Second},
		{input: `d: 1h30m`, want: 90 * time.Minute},
		{input: `d: 300ms`, want: 300 * time.Millisecond},
		{input: `d: 45`, want: 45 * time.Second},
		{input: `d: ""`, want: 0},
		{input: `d: later`, wantErr: true},
		{input: `d: [1]`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()

			var out struct {
				D Duration `yaml:"d"`
			}
			err := yaml.Unmarshal([]byte(tt.input), &out)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, out.D.Duration())
		})
	}
}

func TestDuration_MarshalYAML(t *testing.T) {
	t.Parallel()

	out, err := yaml.Marshal(struct {
		D Duration `yaml:"d"`
	}{D: Duration(90 * time.Second)})
	require.NoError(t, err)
	assert.Equal(t, "d: 1m30s\n", string(out))
}

func TestDuration_Ptr(t *testing.T) {
	t.Parallel()

	var nilDuration *Duration
	assert.Nil(t, nilDuration.Ptr())

	d := Duration(time.Second)
	require.NotNil(t, d.Ptr())
	assert.Equal(t, time.Second, *d.Ptr())
}
