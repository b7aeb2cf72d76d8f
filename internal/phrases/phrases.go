// Package phrases holds the messages the bot posts, keyed by symbolic id.
// Defaults are embedded; configuration may override any of them.
package phrases

import (
	_ "embed"
	"fmt"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/v2"
)

//go:embed phrases.toml
var defaults []byte

// Phrases is a read-only message table.
type Phrases struct {
	k *koanf.Koanf
}

// Load builds the table from embedded defaults and overrides, which use the
// same "section.key" ids as the embedded file.
func Load(overrides map[string]interface{}) (*Phrases, error) {
	k := koanf.New(".")

	parsed, err := toml.Parser().Unmarshal(defaults)
	if err != nil {
		return nil, fmt.Errorf("failed to parse embedded phrases: %w", err)
	}
	if err := k.Load(confmap.Provider(parsed, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load embedded phrases: %w", err)
	}
	if len(overrides) > 0 {
		if err := k.Load(confmap.Provider(overrides, "."), nil); err != nil {
			return nil, fmt.Errorf("failed to load phrase overrides: %w", err)
		}
	}
	return &Phrases{k: k}, nil
}

// Default returns the embedded table; it panics only if the embedded file is
// broken, which tests catch.
func Default() *Phrases {
	p, err := Load(nil)
	if err != nil {
		panic(err)
	}
	return p
}

// Say formats the phrase with the given id. An unknown id renders as the id
// itself so a missing phrase is visible instead of silent.
func (p *Phrases) Say(id string, args ...interface{}) string {
	format := p.k.String(id)
	if format == "" {
		format = id
	}
	if len(args) == 0 {
		return format
	}
	return fmt.Sprintf(format, args...)
}

// Has reports whether a phrase exists.
func (p *Phrases) Has(id string) bool {
	return p.k.Exists(id)
}
