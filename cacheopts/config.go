// Package cacheopts decodes the cache's on-disk configuration, the way
// coremain.loadConfig decodes a plugin's Args: spf13/viper reading the
// file, go-viper/mapstructure/v2 unmarshaling it onto a yaml-tagged
// struct with ErrorUnused and WeaklyTypedInput.
package cacheopts

import (
	"fmt"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Config is the cache's operator-facing configuration (SPEC_FULL.md
// §2.2). BackendPath and Version are fixed at process start; TTLMin,
// TTLMax, and CacheBogusTTL may be hot-reloaded by Watch.
type Config struct {
	// BackendPath is the bbolt file path. Changing it requires a
	// restart; Watch never pushes a new value for this field.
	BackendPath string `yaml:"backend_path"`

	TTLMin uint32 `yaml:"ttl_min"`
	TTLMax uint32 `yaml:"ttl_max"`

	// CacheBogusTTL bounds how long a BOGUS packet entry (validation
	// failure) is memoized before the resolver is forced to
	// re-validate, separate from the normal TTLMin/TTLMax clamp
	// (SPEC_FULL.md §5 supplement 4).
	CacheBogusTTL uint32 `yaml:"cache_bogus_ttl"`

	// PurgeOnVersionMismatch is always true in practice (spec.md §4.8
	// leaves no alternative), but stays an explicit field so an
	// operator's config file documents the behavior instead of relying
	// on an undocumented default.
	PurgeOnVersionMismatch bool `yaml:"purge_on_version_mismatch"`
}

// Defaults returns the values Load starts from before decoding the
// file. TTLMin and TTLMax equal the zero-value fallbacks cache.Open
// applies on its own; CacheBogusTTL is 30 here, whereas a zero
// cache.Options.CacheBogusTTL means no separate cap.
func Defaults() Config {
	return Config{
		TTLMin:                 5,
		TTLMax:                 6 * 24 * 3600,
		CacheBogusTTL:          30,
		PurgeOnVersionMismatch: true,
	}
}

// Load reads and decodes the config file at path.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("cacheopts: read config: %w", err)
	}

	cfg := Defaults()
	decoderOpt := func(dc *mapstructure.DecoderConfig) {
		dc.ErrorUnused = true
		dc.TagName = "yaml"
		dc.WeaklyTypedInput = true
	}
	if err := v.Unmarshal(&cfg, decoderOpt); err != nil {
		return Config{}, fmt.Errorf("cacheopts: unmarshal config: %w", err)
	}
	return cfg, nil
}
