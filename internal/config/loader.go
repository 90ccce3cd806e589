package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// ConfigFileName is the name of the config file.
const ConfigFileName = "grainql.yaml"

// ConfigFileNameAlt is the alternate name of the config file.
const ConfigFileNameAlt = "grainql.yml"

// DecodeHook converts strings into durations and comma lists.
func DecodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// Unmarshal decodes k into cfg with the project decode hook.
func Unmarshal(k *koanf.Koanf, path string, out any) error {
	return k.UnmarshalWithConf(path, out, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook:       DecodeHook(),
			Result:           out,
			WeaklyTypedInput: true,
		},
	})
}

// LoadFromDir loads a ProjectConfig from dir. Without a config file it
// returns the defaults and found is false.
func LoadFromDir(dir string) (cfg *ProjectConfig, found bool, err error) {
	k := koanf.New(".")
	if err := k.Load(confmap.Provider(Defaults(), "."), nil); err != nil {
		return nil, false, err
	}

	path := findConfigFile(dir)
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, false, fmt.Errorf("failed to load %s: %w", path, err)
		}
	}

	cfg = &ProjectConfig{}
	if err := Unmarshal(k, "", cfg); err != nil {
		return nil, false, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.ApplyDefaults()
	if cfg.Target != nil {
		cfg.Target.ApplyDefaults()
	}
	if !filepath.IsAbs(cfg.ModelsDir) {
		cfg.ModelsDir = filepath.Join(dir, cfg.ModelsDir)
	}
	return cfg, path != "", nil
}

func findConfigFile(dir string) string {
	for _, name := range []string{ConfigFileName, ConfigFileNameAlt} {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// FindProjectRoot walks up from startDir to the first directory holding a
// config file. Returns "" when none exists.
func FindProjectRoot(startDir string) string {
	dir := startDir
	for {
		if findConfigFile(dir) != "" {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
