package patterns

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Pack adds tenant-specific patterns to the library. Patterns are keyed by
// rule key, then by language ("tr", "en" or "any").
type Pack struct {
	Name        string                         `yaml:"name"`
	Description string                         `yaml:"description"`
	PackVersion string                         `yaml:"version"`
	Author      string                         `yaml:"author"`
	Patterns    map[string]map[string][]string `yaml:"patterns"`
	ToolNames   []string                       `yaml:"tool_names"`
}

// PackInfo is a summary of a pack for listing.
type PackInfo struct {
	Name         string
	Description  string
	Version      string
	Author       string
	Enabled      bool
	Path         string
	PatternCount int
	// Error is set when the pack could not be loaded; the pack is skipped.
	Error string
}

// LoadPacks reads all .yaml files from packsDir and returns a new library
// with their patterns appended after base's. Files whose name starts with an
// underscore are listed but disabled. A missing directory returns base.
func LoadPacks(packsDir string, base *Library) (*Library, []PackInfo, error) {
	var infos []PackInfo

	entries, err := os.ReadDir(packsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return base, nil, nil
		}
		return nil, nil, err
	}

	result := base.clone()

	for _, entry := range entries {
		if entry.IsDir() || !isYAMLFile(entry.Name()) {
			continue
		}

		path := filepath.Join(packsDir, entry.Name())
		baseName := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		enabled := !strings.HasPrefix(baseName, "_")

		pack, err := loadPack(path)
		if err != nil {
			infos = append(infos, PackInfo{Name: baseName, Enabled: enabled, Path: path, Error: err.Error()})
			continue
		}

		info := PackInfo{
			Name:         pack.Name,
			Description:  pack.Description,
			Version:      pack.PackVersion,
			Author:       pack.Author,
			Enabled:      enabled,
			Path:         path,
			PatternCount: pack.patternCount(),
		}
		if info.Name == "" {
			info.Name = baseName
		}

		if enabled {
			if err := result.extend(pack); err != nil {
				info.Error = err.Error()
			}
		}
		infos = append(infos, info)
	}

	return result, infos, nil
}

// ReadPack parses a single pack file.
func ReadPack(path string) (*Pack, error) {
	return loadPack(path)
}

func loadPack(path string) (*Pack, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var pack Pack
	if err := yaml.Unmarshal(data, &pack); err != nil {
		return nil, fmt.Errorf("failed to parse pack %s: %w", path, err)
	}
	return &pack, nil
}

func (p *Pack) patternCount() int {
	n := 0
	for _, byLang := range p.Patterns {
		for _, list := range byLang {
			n += len(list)
		}
	}
	return n
}

// extend compiles the whole pack before touching l, so a pack with one bad
// pattern adds nothing.
func (l *Library) extend(p *Pack) error {
	compiled := make(map[string]Set, len(p.Patterns))
	for key, byLang := range p.Patterns {
		if _, known := l.sets[key]; !known {
			return fmt.Errorf("unknown rule key %q", key)
		}
		raw := make(map[Language][]string, len(byLang))
		for tag, list := range byLang {
			lang, err := packLanguage(tag)
			if err != nil {
				return err
			}
			raw[lang] = append(raw[lang], list...)
		}
		set, err := compileSet(raw)
		if err != nil {
			return fmt.Errorf("rule %s: %w", key, err)
		}
		compiled[key] = set
	}

	for key, set := range compiled {
		target := l.sets[key]
		for lang, res := range set {
			target[lang] = append(target[lang], res...)
		}
	}
	for _, name := range p.ToolNames {
		if name = strings.TrimSpace(name); name != "" && !slices.Contains(l.toolNames, name) {
			l.toolNames = append(l.toolNames, name)
		}
	}
	return nil
}

func packLanguage(tag string) (Language, error) {
	switch strings.ToLower(strings.TrimSpace(tag)) {
	case "any", "*":
		return Any, nil
	case "tr":
		return Turkish, nil
	case "en":
		return English, nil
	}
	return "", fmt.Errorf("unknown pattern language %q", tag)
}

func isYAMLFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}
