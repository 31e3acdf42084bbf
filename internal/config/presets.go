package config

import (
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// CharacterPreset supplies local defaults for a character when the catalog
// is unreachable or omits a field.
type CharacterPreset struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Avatar   string `yaml:"avatar"`
	Greeting string `yaml:"greeting"`
}

// ScanCharacterPresets executes the scanCharacterPresets function.
func ScanCharacterPresets(presetsDir string) map[string]CharacterPreset {
	presets := map[string]CharacterPreset{}
	if presetsDir == "" {
		return presets
	}

	_ = filepath.WalkDir(presetsDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil || d == nil || d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(d.Name()))
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		preset, err := ReadCharacterPreset(path)
		if err != nil {
			return nil
		}
		if preset.ID == "" {
			preset.ID = strings.TrimSuffix(d.Name(), filepath.Ext(d.Name()))
		}
		presets[preset.ID] = preset
		return nil
	})

	return presets
}

// ReadCharacterPreset executes the readCharacterPreset function.
func ReadCharacterPreset(path string) (CharacterPreset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return CharacterPreset{}, err
	}
	var preset CharacterPreset
	if err := yaml.Unmarshal(data, &preset); err != nil {
		return CharacterPreset{}, err
	}
	if preset.Name == "" {
		preset.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return preset, nil
}
