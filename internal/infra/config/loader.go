// Package config loads config.yaml, .env and REPOFORGE_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/YoshitsuguKoike/repoforge/internal/app/config"
)

const (
	// EnvPrefix marks environment variables that override config.yaml
	EnvPrefix = "REPOFORGE_"
	// FileName is the config file looked up in the base directory
	FileName = "config.yaml"

	maxConfigFileSize = 1024 * 1024
)

// LoadSettings loads configuration.
// Priority: REPOFORGE_* env > config.yaml > defaults.
// A .env file in the working directory is loaded into the process environment first.
func LoadSettings(baseDir string) (*config.AppConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	k := koanf.New(".")
	source := "default"
	settingPath := ""

	path := filepath.Join(baseDir, FileName)
	if info, err := os.Stat(path); err == nil {
		if info.Size() > maxConfigFileSize {
			return nil, fmt.Errorf("%s is larger than %d bytes", path, maxConfigFileSize)
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		source = "yaml"
		settingPath = path
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}
	if hasEnvOverrides() {
		source = "env"
	}

	settings := &RawSettings{}
	if err := k.Unmarshal("", settings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal settings: %w", err)
	}

	applyDefaults(settings)
	return buildAppConfig(settings, source, settingPath)
}

// envKey maps REPOFORGE_SECTION_FIELD_NAME to section.field_name.
// Only the first underscore after the prefix separates the section,
// except archive.s3 which nests one level deeper.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	if parts[0] == "archive" && strings.HasPrefix(parts[1], "s3_") {
		return "archive.s3." + strings.TrimPrefix(parts[1], "s3_")
	}
	return parts[0] + "." + parts[1]
}

func hasEnvOverrides() bool {
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, EnvPrefix) {
			return true
		}
	}
	return false
}
