package envconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func resetDefaults(t *testing.T) {
	t.Helper()
	Beam, LatticeBeam = 16, 8
	PruneInterval = 25
	GPUFraction, LatFraction = 1, 1
	HashSeed = 0
	StrictARPA = false
	CompactAcoustics = false
	FrameTimeout = 0
	ConfigFile = ""
}

func TestConfig(t *testing.T) {
	resetDefaults(t)
	t.Setenv("DECODER_BEAM", "")
	LoadConfig()
	require.Equal(t, 16.0, Beam)

	t.Setenv("DECODER_BEAM", "20.5")
	LoadConfig()
	require.Equal(t, 20.5, Beam)

	t.Setenv("DECODER_PRUNE_INTERVAL", "10")
	LoadConfig()
	require.Equal(t, 10, PruneInterval)

	t.Setenv("DECODER_STRICT_ARPA", "1")
	LoadConfig()
	require.True(t, StrictARPA)

	t.Setenv("DECODER_FRAME_TIMEOUT", "250ms")
	LoadConfig()
	require.Equal(t, 250*time.Millisecond, FrameTimeout)
}

func TestConfigFileOverridesEnv(t *testing.T) {
	resetDefaults(t)
	t.Setenv("DECODER_BEAM", "20")
	t.Setenv("DECODER_STRICT_ARPA", "")

	path := filepath.Join(t.TempDir(), "decoder.yaml")
	yaml := "beam: 30\nprune_interval: 5\nstrict_arpa: true\n"
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	t.Setenv("DECODER_CONFIG", path)

	LoadConfig()
	require.Equal(t, 30.0, Beam)
	require.Equal(t, 5, PruneInterval)
	require.True(t, StrictARPA)
}

func TestOptionsAssemblesFromSettings(t *testing.T) {
	resetDefaults(t)
	t.Setenv("DECODER_BEAM", "12")
	t.Setenv("DECODER_LATTICE_BEAM", "6")
	LoadConfig()

	opts := Options()
	require.Equal(t, float32(12), opts.Beam)
	require.Equal(t, float32(6), opts.LatticeBeam)
}
