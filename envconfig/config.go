// Package envconfig loads decoder.Options from the process environment
// and, optionally, a YAML override file, matching spec.md §6's
// configurable-options table.
package envconfig

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/voxwave/decoder/api"
)

var (
	// Beam is set via DECODER_BEAM in the environment
	Beam float64
	// LatticeBeam is set via DECODER_LATTICE_BEAM in the environment
	LatticeBeam float64
	// MaxTokensPerFrame is set via DECODER_MAX_TOKENS_PER_FRAME
	MaxTokensPerFrame int
	// MaxTokens is set via DECODER_MAX_TOKENS
	MaxTokens int
	// MaxLatArcPerFrame is set via DECODER_MAX_ARCS_PER_FRAME
	MaxLatArcPerFrame int
	// MaxArcs is set via DECODER_MAX_ARCS
	MaxArcs int
	// PruneInterval is set via DECODER_PRUNE_INTERVAL
	PruneInterval int
	// DeterminizeLattice is set via DECODER_DETERMINIZE
	DeterminizeLattice bool
	// GPUFraction is set via DECODER_GPU_FRACTION
	GPUFraction float64
	// LatFraction is set via DECODER_LAT_FRACTION
	LatFraction float64
	// HashSeed is set via DECODER_HASH_SEED
	HashSeed uint64
	// FSTArcCacheSize is set via DECODER_FST_CACHE_SIZE
	FSTArcCacheSize int
	// StrictARPA is set via DECODER_STRICT_ARPA
	StrictARPA bool
	// CompactAcoustics is set via DECODER_COMPACT_ACOUSTICS
	CompactAcoustics bool
	// FrameTimeout is set via DECODER_FRAME_TIMEOUT (a Go duration string,
	// e.g. "250ms")
	FrameTimeout time.Duration
	// ConfigFile is set via DECODER_CONFIG, a YAML file overriding
	// whatever the environment (or api.DefaultOptions) already set
	ConfigFile string
)

type EnvVar struct {
	Name        string
	Value       any
	Description string
}

func AsMap() map[string]EnvVar {
	return map[string]EnvVar{
		"DECODER_BEAM":                 {"DECODER_BEAM", Beam, "Token beam width (default 16)"},
		"DECODER_LATTICE_BEAM":         {"DECODER_LATTICE_BEAM", LatticeBeam, "Lattice pruning beam width (default 8)"},
		"DECODER_MAX_TOKENS_PER_FRAME": {"DECODER_MAX_TOKENS_PER_FRAME", MaxTokensPerFrame, "Token arena slots reserved per frame"},
		"DECODER_MAX_TOKENS":           {"DECODER_MAX_TOKENS", MaxTokens, "Total token arena capacity"},
		"DECODER_MAX_ARCS_PER_FRAME":   {"DECODER_MAX_ARCS_PER_FRAME", MaxLatArcPerFrame, "Lattice-arc arena slots reserved per frame"},
		"DECODER_MAX_ARCS":             {"DECODER_MAX_ARCS", MaxArcs, "Total lattice-arc arena capacity"},
		"DECODER_PRUNE_INTERVAL":       {"DECODER_PRUNE_INTERVAL", PruneInterval, "Frames between backward lattice-pruning passes"},
		"DECODER_DETERMINIZE":          {"DECODER_DETERMINIZE", DeterminizeLattice, "Lattice determinization switch (carried in Options; not read by the decoder)"},
		"DECODER_GPU_FRACTION":         {"DECODER_GPU_FRACTION", GPUFraction, "Compute-stream worker pool size as a fraction of GOMAXPROCS"},
		"DECODER_LAT_FRACTION":         {"DECODER_LAT_FRACTION", LatFraction, "Lattice-stream scheduling hint (carried in Options; not read by the decoder)"},
		"DECODER_HASH_SEED":            {"DECODER_HASH_SEED", HashSeed, "Seed for the LM hashed n-gram store's hash coefficients"},
		"DECODER_FST_CACHE_SIZE":       {"DECODER_FST_CACHE_SIZE", FSTArcCacheSize, "On-demand transducer view arc-cache size (0 disables)"},
		"DECODER_STRICT_ARPA":          {"DECODER_STRICT_ARPA", StrictARPA, "Treat ARPA count-mismatch warnings as hard errors"},
		"DECODER_COMPACT_ACOUSTICS":    {"DECODER_COMPACT_ACOUSTICS", CompactAcoustics, "Buffer prefetched acoustic likelihoods as float16"},
		"DECODER_FRAME_TIMEOUT":        {"DECODER_FRAME_TIMEOUT", FrameTimeout, "Per-frame stall timeout, Go duration string (carried in Options; not read by the decoder)"},
		"DECODER_CONFIG":               {"DECODER_CONFIG", ConfigFile, "Path to a YAML file overriding the options above"},
	}
}

func Values() map[string]string {
	vals := make(map[string]string)
	for k, v := range AsMap() {
		vals[k] = fmt.Sprintf("%v", v.Value)
	}
	return vals
}

// Clean quotes and spaces from the value
func clean(key string) string {
	return strings.Trim(os.Getenv(key), "\"' ")
}

func init() {
	d := api.DefaultOptions()
	Beam = float64(d.Beam)
	LatticeBeam = float64(d.LatticeBeam)
	MaxTokensPerFrame = d.MaxTokensPerFrame
	MaxTokens = d.MaxTokens
	MaxLatArcPerFrame = d.MaxLatArcPerFrame
	MaxArcs = d.MaxArcs
	PruneInterval = d.PruneInterval
	GPUFraction = d.GPUFraction
	LatFraction = d.LatFraction
	FSTArcCacheSize = d.FSTArcCacheSize

	LoadConfig()
}

func LoadConfig() {
	if v := clean("DECODER_BEAM"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			Beam = f
		} else {
			slog.Error("invalid setting, ignoring", "DECODER_BEAM", v, "error", err)
		}
	}

	if v := clean("DECODER_LATTICE_BEAM"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			LatticeBeam = f
		} else {
			slog.Error("invalid setting, ignoring", "DECODER_LATTICE_BEAM", v, "error", err)
		}
	}

	if v := clean("DECODER_MAX_TOKENS_PER_FRAME"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			MaxTokensPerFrame = n
		} else {
			slog.Error("invalid setting, ignoring", "DECODER_MAX_TOKENS_PER_FRAME", v, "error", err)
		}
	}

	if v := clean("DECODER_MAX_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			MaxTokens = n
		} else {
			slog.Error("invalid setting, ignoring", "DECODER_MAX_TOKENS", v, "error", err)
		}
	}

	if v := clean("DECODER_MAX_ARCS_PER_FRAME"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			MaxLatArcPerFrame = n
		} else {
			slog.Error("invalid setting, ignoring", "DECODER_MAX_ARCS_PER_FRAME", v, "error", err)
		}
	}

	if v := clean("DECODER_MAX_ARCS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			MaxArcs = n
		} else {
			slog.Error("invalid setting, ignoring", "DECODER_MAX_ARCS", v, "error", err)
		}
	}

	if v := clean("DECODER_PRUNE_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			PruneInterval = n
		} else {
			slog.Error("invalid setting, ignoring", "DECODER_PRUNE_INTERVAL", v, "error", err)
		}
	}

	if v := clean("DECODER_DETERMINIZE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			DeterminizeLattice = b
		} else {
			DeterminizeLattice = true
		}
	}

	if v := clean("DECODER_GPU_FRACTION"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			GPUFraction = f
		} else {
			slog.Error("invalid setting, ignoring", "DECODER_GPU_FRACTION", v, "error", err)
		}
	}

	if v := clean("DECODER_LAT_FRACTION"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			LatFraction = f
		} else {
			slog.Error("invalid setting, ignoring", "DECODER_LAT_FRACTION", v, "error", err)
		}
	}

	if v := clean("DECODER_HASH_SEED"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			HashSeed = n
		} else {
			slog.Error("invalid setting, ignoring", "DECODER_HASH_SEED", v, "error", err)
		}
	}

	if v := clean("DECODER_FST_CACHE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			FSTArcCacheSize = n
		} else {
			slog.Error("invalid setting, ignoring", "DECODER_FST_CACHE_SIZE", v, "error", err)
		}
	}

	if v := clean("DECODER_STRICT_ARPA"); v != "" {
		StrictARPA = true
	}

	if v := clean("DECODER_COMPACT_ACOUSTICS"); v != "" {
		CompactAcoustics = true
	}

	if v := clean("DECODER_FRAME_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			FrameTimeout = d
		} else {
			slog.Error("invalid setting, ignoring", "DECODER_FRAME_TIMEOUT", v, "error", err)
		}
	}

	ConfigFile = clean("DECODER_CONFIG")
	if ConfigFile != "" {
		if err := loadConfigFile(ConfigFile); err != nil {
			slog.Error("failed to load config file", "path", ConfigFile, "error", err)
		}
	}
}

// loadConfigFile decodes a YAML file of loosely-typed option overrides
// (the on-disk counterpart to the DECODER_* env vars) into the package's
// current settings via mapstructure, so a deployment can ship one config
// file instead of a long list of exported environment variables.
func loadConfigFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}

	var overrides struct {
		Beam               *float64 `mapstructure:"beam"`
		LatticeBeam        *float64 `mapstructure:"lattice_beam"`
		MaxTokensPerFrame  *int     `mapstructure:"max_tokens_per_frame"`
		MaxTokens          *int     `mapstructure:"max_tokens"`
		MaxLatArcPerFrame  *int     `mapstructure:"max_arcs_per_frame"`
		MaxArcs            *int     `mapstructure:"max_arcs"`
		PruneInterval      *int     `mapstructure:"prune_interval"`
		DeterminizeLattice *bool    `mapstructure:"determinize"`
		GPUFraction        *float64 `mapstructure:"gpu_fraction"`
		LatFraction        *float64 `mapstructure:"lat_fraction"`
		HashSeed           *uint64  `mapstructure:"hash_seed"`
		FSTArcCacheSize    *int     `mapstructure:"fst_cache_size"`
		StrictARPA         *bool    `mapstructure:"strict_arpa"`
		CompactAcoustics   *bool    `mapstructure:"compact_acoustics"`
		FrameTimeout       *string  `mapstructure:"frame_timeout"`
	}
	if err := mapstructure.Decode(raw, &overrides); err != nil {
		return fmt.Errorf("decode overrides: %w", err)
	}

	if overrides.Beam != nil {
		Beam = *overrides.Beam
	}
	if overrides.LatticeBeam != nil {
		LatticeBeam = *overrides.LatticeBeam
	}
	if overrides.MaxTokensPerFrame != nil {
		MaxTokensPerFrame = *overrides.MaxTokensPerFrame
	}
	if overrides.MaxTokens != nil {
		MaxTokens = *overrides.MaxTokens
	}
	if overrides.MaxLatArcPerFrame != nil {
		MaxLatArcPerFrame = *overrides.MaxLatArcPerFrame
	}
	if overrides.MaxArcs != nil {
		MaxArcs = *overrides.MaxArcs
	}
	if overrides.PruneInterval != nil {
		PruneInterval = *overrides.PruneInterval
	}
	if overrides.DeterminizeLattice != nil {
		DeterminizeLattice = *overrides.DeterminizeLattice
	}
	if overrides.GPUFraction != nil {
		GPUFraction = *overrides.GPUFraction
	}
	if overrides.LatFraction != nil {
		LatFraction = *overrides.LatFraction
	}
	if overrides.HashSeed != nil {
		HashSeed = *overrides.HashSeed
	}
	if overrides.FSTArcCacheSize != nil {
		FSTArcCacheSize = *overrides.FSTArcCacheSize
	}
	if overrides.StrictARPA != nil {
		StrictARPA = *overrides.StrictARPA
	}
	if overrides.CompactAcoustics != nil {
		CompactAcoustics = *overrides.CompactAcoustics
	}
	if overrides.FrameTimeout != nil {
		d, err := time.ParseDuration(*overrides.FrameTimeout)
		if err != nil {
			return fmt.Errorf("parse frame_timeout: %w", err)
		}
		FrameTimeout = d
	}
	return nil
}

// Options assembles an api.Options from the package's current settings,
// for callers (cmd/decode, server) that want the env/file-derived config
// instead of building api.DefaultOptions() and setting fields by hand.
func Options() api.Options {
	return api.Options{
		Beam:               float32(Beam),
		LatticeBeam:        float32(LatticeBeam),
		MaxTokensPerFrame:  MaxTokensPerFrame,
		MaxTokens:          MaxTokens,
		MaxLatArcPerFrame:  MaxLatArcPerFrame,
		MaxArcs:            MaxArcs,
		PruneInterval:      PruneInterval,
		DeterminizeLattice: DeterminizeLattice,
		GPUFraction:        GPUFraction,
		LatFraction:        LatFraction,
		HashSeed:           HashSeed,
		FSTArcCacheSize:    FSTArcCacheSize,
		StrictARPA:         StrictARPA,
		CompactAcoustics:   CompactAcoustics,
		FrameTimeout:       FrameTimeout,
	}
}
