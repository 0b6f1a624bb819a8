// Package prompts holds the system prompt templates the generator can build.
package prompts

import (
	_ "embed"
	"fmt"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

// PromptType selects a template. The set is closed.
type PromptType string

const (
	Rules              PromptType = "rules"
	SystemPrompt       PromptType = "system_prompt"
	CodingInstructions PromptType = "coding_instructions"
)

// Default is used when a caller sends an unknown type and fallback is allowed.
const Default = Rules

// Unspecified replaces an empty language or framework.
const Unspecified = "not specified"

// ParsePromptType reports whether raw names a known template.
func ParsePromptType(raw string) (PromptType, bool) {
	switch pt := PromptType(strings.TrimSpace(raw)); pt {
	case Rules, SystemPrompt, CodingInstructions:
		return pt, true
	default:
		return "", false
	}
}

// Vars are substituted into a template.
type Vars struct {
	Tool      string
	Language  string
	Framework string
}

func (v Vars) withDefaults() Vars {
	if strings.TrimSpace(v.Language) == "" {
		v.Language = Unspecified
	}
	if strings.TrimSpace(v.Framework) == "" {
		v.Framework = Unspecified
	}
	return v
}

// Info describes a template for API listing.
type Info struct {
	Type        PromptType `json:"type" yaml:"type"`
	Title       string     `json:"title" yaml:"title"`
	Description string     `json:"description" yaml:"description"`
}

type entry struct {
	Info `yaml:",inline"`
	Body string `yaml:"body"`
}

type file struct {
	Templates []entry `yaml:"templates"`
}

//go:embed templates.yaml
var templatesYAML []byte

// Catalog is the parsed set of templates.
type Catalog struct {
	infos     []Info
	templates map[PromptType]*template.Template
}

// Load parses a catalog from YAML. Every PromptType must be present.
func Load(data []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing templates: %w", err)
	}

	c := &Catalog{templates: make(map[PromptType]*template.Template)}
	for _, e := range f.Templates {
		if _, ok := ParsePromptType(string(e.Type)); !ok {
			return nil, fmt.Errorf("unknown template type %q", e.Type)
		}
		if _, dup := c.templates[e.Type]; dup {
			return nil, fmt.Errorf("duplicate template type %q", e.Type)
		}
		tmpl, err := template.New(string(e.Type)).Option("missingkey=error").Parse(e.Body)
		if err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", e.Type, err)
		}
		c.templates[e.Type] = tmpl
		c.infos = append(c.infos, e.Info)
	}

	for _, pt := range []PromptType{Rules, SystemPrompt, CodingInstructions} {
		if _, ok := c.templates[pt]; !ok {
			return nil, fmt.Errorf("missing template %q", pt)
		}
	}
	return c, nil
}

// Builtin returns the catalog embedded in the binary.
func Builtin() *Catalog {
	c, err := Load(templatesYAML)
	if err != nil {
		panic(err)
	}
	return c
}

// Types lists the templates in catalog order.
func (c *Catalog) Types() []Info {
	return append([]Info(nil), c.infos...)
}

// Render builds the system prompt for pt.
func (c *Catalog) Render(pt PromptType, vars Vars) (string, error) {
	tmpl, ok := c.templates[pt]
	if !ok {
		return "", fmt.Errorf("no template for prompt type %q", pt)
	}

	var b strings.Builder
	if err := tmpl.Execute(&b, vars.withDefaults()); err != nil {
		return "", fmt.Errorf("rendering %s template: %w", pt, err)
	}
	return strings.TrimSpace(b.String()), nil
}
