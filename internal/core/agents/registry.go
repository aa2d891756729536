// Package agents holds the agent descriptors, the intent router that picks
// one per query, and the generator that runs it.
package agents

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

//go:embed agents.yaml
var defaultAgents []byte

const (
	CapabilityQuestion  = "question"
	CapabilitySummarize = "summarize"
	CapabilityChat      = "chat"
)

// Descriptor is one generation specialty. Values are copied out of the
// registry, so callers cannot change the loaded configuration.
type Descriptor struct {
	Name            string   `yaml:"name"`
	Description     string   `yaml:"description"`
	Capabilities    []string `yaml:"capabilities"`
	SystemPrompt    string   `yaml:"system_prompt"`
	PromptTemplate  string   `yaml:"prompt_template"`
	MaxContextChars int      `yaml:"max_context_chars"`
	Default         bool     `yaml:"default"`

	tmpl *template.Template
}

// Has reports whether the agent declares capability c.
func (d Descriptor) Has(c string) bool {
	return slices.Contains(d.Capabilities, c)
}

type registryFile struct {
	Agents []Descriptor `yaml:"agents"`
}

// Registry is the read-only set of agents loaded at startup.
type Registry struct {
	agents   []Descriptor
	fallback int
}

// LoadRegistry reads agents from path, or the built-in set when path is empty.
func LoadRegistry(path string) (*Registry, error) {
	if path == "" {
		return ParseRegistry(defaultAgents)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read agents file: %w", err)
	}
	return ParseRegistry(data)
}

func ParseRegistry(data []byte) (*Registry, error) {
	var f registryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse agents: %w", err)
	}
	if len(f.Agents) == 0 {
		return nil, errors.New("agents: no agents defined")
	}

	r := &Registry{fallback: -1}
	seen := make(map[string]bool)
	for i, d := range f.Agents {
		d.Name = strings.TrimSpace(d.Name)
		if d.Name == "" {
			return nil, fmt.Errorf("agents: entry %d has no name", i)
		}
		if seen[d.Name] {
			return nil, fmt.Errorf("agents: duplicate agent %q", d.Name)
		}
		seen[d.Name] = true

		if d.PromptTemplate == "" {
			d.PromptTemplate = "{{if .HasContext}}{{.Context}}\n\n{{end}}{{.Query}}"
		}
		tmpl, err := template.New(d.Name).Option("missingkey=error").Parse(d.PromptTemplate)
		if err != nil {
			return nil, fmt.Errorf("agents: template of %q: %w", d.Name, err)
		}
		d.tmpl = tmpl
		if d.MaxContextChars <= 0 {
			d.MaxContextChars = 8000
		}
		d.Capabilities = slices.Clone(d.Capabilities)

		if d.Default {
			if r.fallback >= 0 {
				return nil, fmt.Errorf("agents: both %q and %q are marked default", r.agents[r.fallback].Name, d.Name)
			}
			r.fallback = len(r.agents)
		}
		r.agents = append(r.agents, d)
	}

	if r.fallback < 0 {
		r.fallback = slices.IndexFunc(r.agents, func(d Descriptor) bool { return d.Has(CapabilityChat) })
	}
	if r.fallback < 0 {
		return nil, errors.New("agents: no default agent and none with the chat capability")
	}
	return r, nil
}

func (r *Registry) Get(name string) (Descriptor, bool) {
	for _, d := range r.agents {
		if d.Name == name {
			return d.clone(), true
		}
	}
	return Descriptor{}, false
}

// Default is the agent used when no intent matches.
func (r *Registry) Default() Descriptor {
	return r.agents[r.fallback].clone()
}

// WithCapability returns the first agent, in file order, declaring c.
func (r *Registry) WithCapability(c string) (Descriptor, bool) {
	for _, d := range r.agents {
		if d.Has(c) {
			return d.clone(), true
		}
	}
	return Descriptor{}, false
}

func (r *Registry) Names() []string {
	out := make([]string, len(r.agents))
	for i, d := range r.agents {
		out[i] = d.Name
	}
	return out
}

func (d Descriptor) clone() Descriptor {
	d.Capabilities = slices.Clone(d.Capabilities)
	return d
}
