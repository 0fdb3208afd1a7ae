package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dgnsrekt/meet_torture/internal/participant"
)

// Participants is the participants file: properties shared by every
// participant plus per configuration key overrides.
//
//	global:
//	  headless: true
//	participants:
//	  participant1:
//	    type: chrome
//	  participant2:
//	    type: chrome
//	    multitab: true
type Participants struct {
	Global       map[string]string            `yaml:"global"`
	Participants map[string]map[string]string `yaml:"participants"`
}

// LoadParticipants reads and validates path. A missing file yields an
// empty configuration.
func LoadParticipants(path string) (*Participants, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Debug("no participants file, using defaults", "path", path)
		return &Participants{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read participants file: %w", err)
	}
	return ParseParticipants(data)
}

// ParseParticipants decodes and validates a participants document.
func ParseParticipants(data []byte) (*Participants, error) {
	var p Participants
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse participants file: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks every configured type.
func (p *Participants) Validate() error {
	if _, err := participant.ParseType(p.Global[participant.OptType]); err != nil {
		return fmt.Errorf("global: %w", err)
	}
	for _, key := range p.Keys() {
		if !strings.HasPrefix(key, "participant") {
			slog.Warn("unusual participant configuration key", "key", key)
		}
		if _, err := participant.ParseType(p.Participants[key][participant.OptType]); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	return nil
}

// Keys lists the configured participant keys in order.
func (p *Participants) Keys() []string {
	keys := make([]string, 0, len(p.Participants))
	for k := range p.Participants {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Options resolves the options for configKey: global properties, then the
// key's own properties.
func (p *Participants) Options(configKey string) participant.Options {
	return participant.NewOptions(p.Global, p.Participants[configKey])
}

// OptionsFunc adapts p for participant.NewManager.
func (p *Participants) OptionsFunc() participant.OptionsFunc {
	return p.Options
}
