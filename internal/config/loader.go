package config

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix         = "GEOGATE_"
	maxConfigFileSize = 1024 * 1024 // 1MB
)

// subsections are nested config blocks that need three-part env mapping,
// e.g. GEOGATE_RETRIEVAL_QDRANT_HOST -> retrieval.qdrant.host.
var subsections = []string{"chromem_", "qdrant_", "github_"}

// Load builds configuration from defaults and GEOGATE_* environment
// variables only. Use LoadWithFile to layer a YAML file underneath.
func Load() (*Config, error) {
	return load(nil)
}

// LoadWithFile loads configuration from a YAML file, then overrides with
// environment variables.
//
// Precedence (highest to lowest):
//  1. GEOGATE_* environment variables
//  2. YAML config file
//  3. Built-in defaults
//
// The file must not be group- or world-writable and is capped at 1MB.
// A missing file is an error; pass an empty path to skip the file layer.
func LoadWithFile(configPath string) (*Config, error) {
	if configPath == "" {
		return load(nil)
	}

	content, err := readConfigFile(configPath)
	if err != nil {
		return nil, err
	}
	return load(content)
}

func load(yamlContent []byte) (*Config, error) {
	k := koanf.New(".")

	if yamlContent != nil {
		if err := k.Load(rawbytes.Provider(yamlContent), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// envTransform maps GEOGATE_SECTION_FIELD_NAME to section.field_name.
// Known subsections get a third level: GEOGATE_RETRIEVAL_QDRANT_HOST
// becomes retrieval.qdrant.host.
func envTransform(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
	parts := strings.SplitN(s, "_", 2)
	if len(parts) != 2 {
		return s
	}
	section, rest := parts[0], parts[1]
	for _, sub := range subsections {
		if strings.HasPrefix(rest, sub) {
			return section + "." + strings.TrimSuffix(sub, "_") + "." + strings.TrimPrefix(rest, sub)
		}
	}
	return section + "." + rest
}

// readConfigFile reads the config file after checking size and permissions.
func readConfigFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("config path %s is a directory", path)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file %s exceeds %d bytes", path, maxConfigFileSize)
	}

	// Windows does not carry POSIX permission bits.
	if runtime.GOOS != "windows" {
		if perm := info.Mode().Perm(); perm&0o022 != 0 {
			return nil, fmt.Errorf("config file %s has permissions %04o, must not be group- or world-writable", path, perm)
		}
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}
	return content, nil
}
