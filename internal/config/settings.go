package config

import (
	"fmt"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// SearchSettings are the search values an operator may change at runtime
// through the settings file. Zero fields keep the configured value.
type SearchSettings struct {
	Threshold    float64 `koanf:"threshold"`
	DefaultLimit int     `koanf:"default_limit"`
	TagBoost     float64 `koanf:"tag_boost"`
}

// Apply returns cfg with the non-zero settings applied.
func (s SearchSettings) Apply(cfg SearchConfig) SearchConfig {
	if s.Threshold > 0 && s.Threshold <= 1 {
		cfg.Threshold = s.Threshold
	}
	if s.DefaultLimit > 0 {
		cfg.DefaultLimit = min(s.DefaultLimit, cfg.MaxLimit)
	}
	if s.TagBoost > 0 {
		cfg.TagBoost = s.TagBoost
	}
	return cfg
}

// LoadSearchSettings reads a YAML settings file. A missing file or an empty
// path yields zero settings.
func LoadSearchSettings(path string) (SearchSettings, error) {
	var s SearchSettings
	if path == "" {
		return s, nil
	}
	path = ExpandPath(path)
	content, err := readConfigFile(path)
	if err != nil || content == nil {
		return s, err
	}
	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
		return s, fmt.Errorf("failed to parse settings file %s: %w", path, err)
	}
	if err := k.Unmarshal("", &s); err != nil {
		return s, fmt.Errorf("failed to unmarshal settings: %w", err)
	}
	return s, nil
}
