// Package config loads runtime configuration from STRIDEBEAT_* environment
// variables, optionally overlaid by a YAML file.
package config

import (
	"os"
	"strconv"
)

// Config holds all runtime configuration.
type Config struct {
	// Server
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`

	// Audio
	Output     string `yaml:"output"` // "device" or "stream"
	SampleRate int    `yaml:"sample_rate"`

	// Metronome
	BPM     float64 `yaml:"bpm"` // 0 = derive from the cadence model
	CueMode string  `yaml:"cue_mode"`
	Sound   string  `yaml:"sound"`
	Haptics bool    `yaml:"haptics"`

	// Cadence model inputs
	HeightMeters float64 `yaml:"height_m"`
	WeightKg     float64 `yaml:"weight_kg"`
	SpeedMps     float64 `yaml:"speed_mps"`
	CadenceDelta float64 `yaml:"cadence_delta"`
}

// Load reads configuration from environment variables with sane defaults.
func Load() Config {
	return Config{
		Port:     envInt("STRIDEBEAT_PORT", 8080),
		LogLevel: envStr("STRIDEBEAT_LOG_LEVEL", "info"),

		Output:     envStr("STRIDEBEAT_OUTPUT", "device"),
		SampleRate: envInt("STRIDEBEAT_SAMPLE_RATE", 48000),

		BPM:     envFloat("STRIDEBEAT_BPM", 0),
		CueMode: envStr("STRIDEBEAT_CUE_MODE", "every_step"),
		Sound:   envStr("STRIDEBEAT_SOUND", "click"),
		Haptics: envBool("STRIDEBEAT_HAPTICS", false),

		HeightMeters: envFloat("STRIDEBEAT_HEIGHT_M", 1.75),
		WeightKg:     envFloat("STRIDEBEAT_WEIGHT_KG", 0),
		SpeedMps:     envFloat("STRIDEBEAT_SPEED_MPS", 3.0),
		CadenceDelta: envFloat("STRIDEBEAT_CADENCE_DELTA", 0),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
