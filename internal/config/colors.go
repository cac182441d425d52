package config

import (
	"fmt"

	"github.com/derailed/tcell/v2"
)

// Color represents a color in the application
type Color string

// DefaultColor represents the terminal default color
const DefaultColor Color = "default"

// NewColor returns a new color
func NewColor(c string) Color {
	return Color(c)
}

// String returns color as a tview style tag value
func (c Color) String() string {
	if c.isHex() {
		return string(c)
	}
	if c == DefaultColor || c == "" {
		return "-"
	}
	col := c.Color().TrueColor().Hex()
	if col < 0 {
		return "-"
	}
	return fmt.Sprintf("#%06x", col)
}

func (c Color) isHex() bool {
	return len(c) == 7 && c[0] == '#'
}

// Color returns a view color
func (c Color) Color() tcell.Color {
	if c == DefaultColor || c == "" {
		return tcell.ColorDefault
	}
	return tcell.GetColor(string(c)).TrueColor()
}

// MessageColors colors message rows by state
type MessageColors struct {
	Unread  Color `yaml:"unread"`
	Read    Color `yaml:"read"`
	Starred Color `yaml:"starred"`
}

// StatusColors colors the status bar
type StatusColors struct {
	Fg      Color `yaml:"fg"`
	Bg      Color `yaml:"bg"`
	Syncing Color `yaml:"syncing"`
	Error   Color `yaml:"error"`
}

// ColorsConfig defines the complete color configuration
type ColorsConfig struct {
	Fg      Color         `yaml:"fg"`
	Bg      Color         `yaml:"bg"`
	Border  Color         `yaml:"border"`
	Focus   Color         `yaml:"focus"`
	Title   Color         `yaml:"title"`
	Message MessageColors `yaml:"message"`
	Status  StatusColors  `yaml:"status"`
}

// DefaultColors returns the default color configuration
func DefaultColors() *ColorsConfig {
	return &ColorsConfig{
		Fg:     NewColor("#f8f8f2"),
		Bg:     NewColor("#282a36"),
		Border: NewColor("#44475a"),
		Focus:  NewColor("#6272a4"),
		Title:  NewColor("#bd93f9"),
		Message: MessageColors{
			Unread:  NewColor("#ffb86c"),
			Read:    NewColor("#6272a4"),
			Starred: NewColor("#f1fa8c"),
		},
		Status: StatusColors{
			Fg:      NewColor("#f8f8f2"),
			Bg:      NewColor("#44475a"),
			Syncing: NewColor("#8be9fd"),
			Error:   NewColor("#ff5555"),
		},
	}
}
