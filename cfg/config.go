// Package cfg holds the engine's configuration structs, defaults, and
// validation. It deliberately stops at the struct layer: binding these
// fields to a config file or CLI flags is the job of the (out of
// scope) command-line front end, mirrored here only in shape from the
// teacher's cfg.Config / cfg.FileSystemConfig.
package cfg

import "fmt"

// Config is the root configuration for a Filesystem instance.
type Config struct {
	Cache       CacheConfig       `yaml:"cache"`
	LSM         LSMConfig         `yaml:"lsm"`
	Compression CompressionConfig `yaml:"compression"`
	Quota       QuotaConfig       `yaml:"quota"`
}

// CacheConfig governs the local writeback/metadata cache tier.
type CacheConfig struct {
	RootFolder        string `yaml:"root-folder" mapstructure:"root-folder"`
	MaxCacheSizeGB     float64 `yaml:"max-cache-size-gb" mapstructure:"max-cache-size-gb"`
	MemoryCacheSizeGB  float64 `yaml:"memory-cache-size-gb" mapstructure:"memory-cache-size-gb"`
}

// LSMConfig carries the recognised LSM-tree hint options of spec.md §6.
type LSMConfig struct {
	MaxConcurrentCompactions int    `yaml:"max-concurrent-compactions" mapstructure:"max-concurrent-compactions"`
	MaxSSTSize               uint64 `yaml:"max-sst-size" mapstructure:"max-sst-size"`
	GCIntervalSeconds         int    `yaml:"gc-interval-seconds" mapstructure:"gc-interval-seconds"`
	GCMinAgeSeconds           int    `yaml:"gc-min-age-seconds" mapstructure:"gc-min-age-seconds"`
	SizeTierMaxSources        int    `yaml:"size-tier-max-sources" mapstructure:"size-tier-max-sources"`
	SizeTierIncludeThreshold  float64 `yaml:"size-tier-include-threshold" mapstructure:"size-tier-include-threshold"`
}

// CompressionAlgorithm selects the per-chunk compression codec.
type CompressionAlgorithm int

const (
	CompressionZstd CompressionAlgorithm = iota
	CompressionLz4
)

// CompressionConfig selects and parameterizes the chunk compressor.
type CompressionConfig struct {
	Algorithm  CompressionAlgorithm `yaml:"algorithm" mapstructure:"algorithm"`
	ZstdLevel  int                  `yaml:"zstd-level" mapstructure:"zstd-level"`
}

// QuotaConfig bounds the single global byte cap (spec.md Non-goals:
// no fine-grained per-user quotas beyond this).
type QuotaConfig struct {
	MaxTotalBytes uint64 `yaml:"max-total-bytes" mapstructure:"max-total-bytes"`
}

// Validate reports the first configuration error found, following the
// teacher's cfg/validate.go IsValid-then-return-first-error style.
func (c Config) Validate() error {
	if c.LSM.MaxConcurrentCompactions < 1 {
		return fmt.Errorf("lsm.max-concurrent-compactions must be >= 1, got %d", c.LSM.MaxConcurrentCompactions)
	}
	if c.LSM.MaxSSTSize == 0 {
		return fmt.Errorf("lsm.max-sst-size must be > 0")
	}
	if c.LSM.SizeTierMaxSources < 2 {
		return fmt.Errorf("lsm.size-tier-max-sources must be >= 2, got %d", c.LSM.SizeTierMaxSources)
	}
	if c.Compression.Algorithm == CompressionZstd && (c.Compression.ZstdLevel < 1 || c.Compression.ZstdLevel > 22) {
		return fmt.Errorf("compression.zstd-level must be in [1, 22], got %d", c.Compression.ZstdLevel)
	}
	if c.Cache.MaxCacheSizeGB < 0 || c.Cache.MemoryCacheSizeGB < 0 {
		return fmt.Errorf("cache sizes must not be negative")
	}
	return nil
}

// GetDefaultConfig returns the configuration used before any
// user-supplied overrides are applied, mirroring the teacher's
// GetDefaultXxxConfig constructors in cfg/defaults.go.
func GetDefaultConfig() Config {
	return Config{
		Cache: CacheConfig{
			RootFolder:        "",
			MaxCacheSizeGB:    10,
			MemoryCacheSizeGB: 1,
		},
		LSM:         GetDefaultLSMConfig(),
		Compression: CompressionConfig{Algorithm: CompressionZstd, ZstdLevel: 3},
		Quota:       QuotaConfig{MaxTotalBytes: 0},
	}
}

// GetDefaultLSMConfig returns the default LSM tuning, sized for a
// general-purpose workload; ForPostgreSQL, ForHighThroughputDB and
// ForAnalyticsDB in package writebackcache supply workload-shaped
// presets for the cache tier instead.
func GetDefaultLSMConfig() LSMConfig {
	return LSMConfig{
		MaxConcurrentCompactions: 4,
		MaxSSTSize:               64 << 20,
		GCIntervalSeconds:        300,
		GCMinAgeSeconds:          60,
		SizeTierMaxSources:       4,
		SizeTierIncludeThreshold: 1.5,
	}
}
