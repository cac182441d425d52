package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const themeSection = "orionmail"

// ThemeLoader handles loading and saving themes
type ThemeLoader struct {
	themesDir string
}

// NewThemeLoader creates a new theme loader
func NewThemeLoader(themesDir string) *ThemeLoader {
	return &ThemeLoader{themesDir: themesDir}
}

// Load returns the colors for name. An empty name yields the defaults. Colors
// the theme leaves unset keep their default value.
func (tl *ThemeLoader) Load(name string) (*ColorsConfig, error) {
	if name == "" {
		return DefaultColors(), nil
	}
	path := filepath.Join(tl.themesDir, name)
	if !fileExists(path) {
		path = expandHome(name)
		if !fileExists(path) {
			return nil, fmt.Errorf("theme file not found: %s", name)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read theme file: %w", err)
	}

	var doc map[string]yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse theme file: %w", err)
	}
	node, ok := doc[themeSection]
	if !ok {
		return nil, fmt.Errorf("invalid theme file: missing %s section", themeSection)
	}
	colors := DefaultColors()
	if err := node.Decode(colors); err != nil {
		return nil, fmt.Errorf("failed to parse theme file: %w", err)
	}
	if err := Validate(colors); err != nil {
		return nil, err
	}
	return colors, nil
}

// Save writes colors to a theme file in the themes directory.
func (tl *ThemeLoader) Save(colors *ColorsConfig, filename string) error {
	if err := os.MkdirAll(tl.themesDir, 0o755); err != nil {
		return fmt.Errorf("failed to create themes directory: %w", err)
	}
	data, err := yaml.Marshal(map[string]*ColorsConfig{themeSection: colors})
	if err != nil {
		return fmt.Errorf("failed to marshal theme: %w", err)
	}
	if err := os.WriteFile(filepath.Join(tl.themesDir, filename), data, 0o644); err != nil {
		return fmt.Errorf("failed to write theme file: %w", err)
	}
	return nil
}

// Validate checks that the colors every view depends on are present.
func Validate(colors *ColorsConfig) error {
	if colors == nil {
		return fmt.Errorf("theme is nil")
	}
	required := []struct {
		name  string
		color Color
	}{
		{"fg", colors.Fg},
		{"bg", colors.Bg},
		{"message.unread", colors.Message.Unread},
		{"message.read", colors.Message.Read},
	}
	for _, req := range required {
		if req.color == "" {
			return fmt.Errorf("missing required color: %s", req.name)
		}
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
