package tuning

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeProfile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "generations.ini")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadProfile(t *testing.T) {
	path := writeProfile(t, `
[gen3]
checksum    = xor8
divider_max = 2.2

[gen5smart]
speed_scale    = 0.1
speed_over_can = false
`)

	profile, err := LoadProfile(path)
	require.NoError(t, err)
	require.Len(t, profile, 2)

	assert.Equal(t, "xor8", profile[Gen3].Checksum)
	assert.Equal(t, 2.2, profile[Gen3].DividerMax)
	assert.Equal(t, 0.1, profile[Gen5Smart].SpeedScale)
	require.NotNil(t, profile[Gen5Smart].SpeedOverCAN)
	assert.False(t, *profile[Gen5Smart].SpeedOverCAN)
}

func TestLoadProfile_UnknownGeneration(t *testing.T) {
	path := writeProfile(t, "[gen9]\nchecksum = crc8\n")

	_, err := LoadProfile(path)
	assert.Error(t, err)
}

func TestLoadProfile_BadChecksum(t *testing.T) {
	path := writeProfile(t, "[gen2]\nchecksum = md5\n")

	_, err := LoadProfile(path)
	assert.Error(t, err)
}

func TestLoadProfile_MissingFile(t *testing.T) {
	_, err := LoadProfile(filepath.Join(t.TempDir(), "missing.ini"))
	assert.Error(t, err)
}

func TestProfile_Apply(t *testing.T) {
	off := false
	profile := Profile{
		Gen4: {
			Checksum:     "xor8",
			SpeedScale:   0.2,
			SpeedOverCAN: &off,
			DividerMax:   2.5,
		},
	}

	info := profile.apply(generationTable[Gen4])
	assert.Equal(t, checksumXor8, info.Checksum)
	assert.Equal(t, 0.2, info.Speed.scale)
	assert.False(t, info.SpeedOverCAN)
	assert.Equal(t, 2.5, info.Divider.Max)
	// Untouched fields keep the built-in values.
	assert.Equal(t, generationTable[Gen4].Divider.Min, info.Divider.Min)

	// Generations without an override pass through unchanged.
	same := profile.apply(generationTable[Gen2])
	assert.Equal(t, generationTable[Gen2], same)
}

func TestProtocol_ProfileSurvivesGenerationSwitch(t *testing.T) {
	ph, err := NewProtocolHandler(Gen3, nil, nil)
	require.NoError(t, err)

	ph.ApplyProfile(Profile{
		Gen3: {DividerMax: 3.0},
		Gen4: {DividerMax: 2.8},
	})
	assert.Equal(t, 3.0, ph.DividerBounds().Max)

	require.NoError(t, ph.SetGeneration(Gen4))
	assert.Equal(t, 2.8, ph.DividerBounds().Max)

	// A generation without an override gets the built-in bounds.
	require.NoError(t, ph.SetGeneration(Gen1))
	assert.Equal(t, generationTable[Gen1].Divider.Max, ph.DividerBounds().Max)
}
