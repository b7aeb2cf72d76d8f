// Package profile reads the per-repository `.shipbot.yml` that names the
// architects, the commanders allowed to run each command and the scripts
// handed to the runner.
package profile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/shipbot/internal/providers"
)

// File is the profile path on the repository default branch.
const File = ".shipbot.yml"

// ErrProfile marks a profile that exists but cannot be understood.
var ErrProfile = errors.New("broken profile")

// Script is one or more shell lines; a scalar is accepted for one line.
type Script []string

func (s *Script) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		if strings.TrimSpace(node.Value) == "" {
			*s = nil
			return nil
		}
		*s = Script{node.Value}
		return nil
	case yaml.SequenceNode:
		var lines []string
		if err := node.Decode(&lines); err != nil {
			return err
		}
		*s = lines
		return nil
	}
	return fmt.Errorf("line %d: script must be a string or a list of strings", node.Line)
}

// Section configures one command (deploy, release, merge, ...).
type Section struct {
	Commanders []string          `yaml:"commanders"`
	Script     Script            `yaml:"script"`
	Env        map[string]string `yaml:"env"`
}

// Profile is the parsed `.shipbot.yml`.
type Profile struct {
	architects []string
	sections   map[string]Section
	raw        string
}

// Empty is the profile of a repository without `.shipbot.yml`.
func Empty() *Profile {
	return &Profile{sections: map[string]Section{}}
}

// Parse reads a profile document. Errors wrap ErrProfile.
func Parse(text string) (*Profile, error) {
	p := Empty()
	p.raw = text
	if strings.TrimSpace(text) == "" {
		return p, nil
	}
	var doc map[string]yaml.Node
	if err := yaml.Unmarshal([]byte(text), &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProfile, err)
	}
	for key, node := range doc {
		node := node
		if key == "architect" {
			logins, err := decodeLogins(&node)
			if err != nil {
				return nil, fmt.Errorf("%w: architect: %v", ErrProfile, err)
			}
			p.architects = logins
			continue
		}
		if node.Kind != yaml.MappingNode {
			continue
		}
		var sec Section
		if err := node.Decode(&sec); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrProfile, key, err)
		}
		sec.Commanders = normalize(sec.Commanders)
		p.sections[key] = sec
	}
	return p, nil
}

func decodeLogins(node *yaml.Node) ([]string, error) {
	switch node.Kind {
	case yaml.ScalarNode:
		return normalize([]string{node.Value}), nil
	case yaml.SequenceNode:
		var logins []string
		if err := node.Decode(&logins); err != nil {
			return nil, err
		}
		return normalize(logins), nil
	}
	return nil, fmt.Errorf("line %d: expected a login or a list of logins", node.Line)
}

// normalize lowercases logins and strips a leading "@".
func normalize(logins []string) []string {
	var out []string
	for _, l := range logins {
		l = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(l), "@"))
		if l != "" {
			out = append(out, l)
		}
	}
	return out
}

func (p *Profile) Architects() []string {
	return p.architects
}

func (p *Profile) IsArchitect(login string) bool {
	return contains(p.architects, login)
}

// Commanders lists the logins allowed to run the section's command.
func (p *Profile) Commanders(section string) []string {
	return p.sections[section].Commanders
}

func (p *Profile) Script(section string) Script {
	return p.sections[section].Script
}

func (p *Profile) Env(section string) map[string]string {
	return p.sections[section].Env
}

// Sections returns the configured section names, sorted.
func (p *Profile) Sections() []string {
	names := make([]string, 0, len(p.sections))
	for name := range p.sections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Raw returns the document as read from the repository.
func (p *Profile) Raw() string {
	return p.raw
}

func contains(logins []string, login string) bool {
	login = strings.ToLower(login)
	for _, l := range logins {
		if l == login {
			return true
		}
	}
	return false
}

// Loader fetches the profile of one repository lazily and keeps it for the
// rest of the cycle. Transient fetch failures are not remembered.
type Loader struct {
	provider providers.Provider
	repo     string

	mu      sync.Mutex
	profile *Profile
	err     error
}

func NewLoader(provider providers.Provider, repo string) *Loader {
	return &Loader{provider: provider, repo: repo}
}

// Static returns a loader that always yields p; useful when the profile is
// already known.
func Static(p *Profile) *Loader {
	return &Loader{profile: p}
}

// Load returns the profile from the repository default branch. A missing
// file yields Empty; an unparsable one an error wrapping ErrProfile.
func (l *Loader) Load(ctx context.Context) (*Profile, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.profile != nil || l.err != nil {
		return l.profile, l.err
	}
	repo, err := l.provider.Repository(ctx, l.repo)
	if err != nil {
		return nil, fmt.Errorf("read repository %s: %w", l.repo, err)
	}
	text, err := l.provider.FileContent(ctx, l.repo, repo.DefaultBranch, File)
	if errors.Is(err, providers.ErrNotFound) {
		l.profile = Empty()
		return l.profile, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", File, err)
	}
	l.profile, l.err = Parse(text)
	return l.profile, l.err
}
