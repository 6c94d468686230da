// Package loader reads model files: SQL templates with optional YAML frontmatter.
package loader

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/leapstack-labs/weft/pkg/core"
	"gopkg.in/yaml.v3"
)

// FrontmatterConfig represents parsed YAML frontmatter.
// Unknown fields cause parse errors (use Meta for extensions).
type FrontmatterConfig struct {
	Name         string         `yaml:"name"`
	Description  string         `yaml:"description"`
	Materialized string         `yaml:"materialized"` // view, table, incremental or a custom strategy
	UniqueKey    string         `yaml:"unique_key"`
	Schema       string         `yaml:"schema"`
	Tags         []string       `yaml:"tags"`
	Meta         map[string]any `yaml:"meta"` // Extension point for custom fields
}

// FrontmatterResult holds the result of frontmatter extraction.
type FrontmatterResult struct {
	Config  *FrontmatterConfig
	SQL     string // template content after frontmatter
	HasYAML bool   // Whether frontmatter was found
}

// frontmatterPattern matches a leading /*--- ... ---*/ block.
var frontmatterPattern = regexp.MustCompile(`(?s)^\s*/\*---\s*\n(.*?)\s*---\*/`)

var strategyPattern = regexp.MustCompile(`^[A-Za-z_]\w*$`)

// ExtractFrontmatter splits content into its frontmatter config and the
// remaining template text.
func ExtractFrontmatter(content string) (*FrontmatterResult, error) {
	result := &FrontmatterResult{
		Config: &FrontmatterConfig{},
		SQL:    content,
	}

	matches := frontmatterPattern.FindStringSubmatch(content)
	if len(matches) < 2 {
		return result, nil
	}

	result.HasYAML = true
	result.SQL = strings.TrimSpace(content[len(matches[0]):])

	config, err := parseFrontmatterYAML(matches[1])
	if err != nil {
		return nil, err
	}
	result.Config = config
	return result, nil
}

// parseFrontmatterYAML decodes YAML content, rejecting unknown fields.
func parseFrontmatterYAML(yamlContent string) (*FrontmatterConfig, error) {
	config := &FrontmatterConfig{}
	if strings.TrimSpace(yamlContent) == "" {
		return config, nil
	}

	dec := yaml.NewDecoder(strings.NewReader(yamlContent))
	dec.KnownFields(true)
	if err := dec.Decode(config); err != nil {
		if field, ok := unknownField(err); ok {
			return nil, &UnknownFieldError{Field: field}
		}
		return nil, &FrontmatterParseError{Message: fmt.Sprintf("invalid YAML: %v", err)}
	}

	if config.Materialized != "" && !strategyPattern.MatchString(config.Materialized) {
		return nil, &FrontmatterParseError{
			Message: fmt.Sprintf("invalid materialized value: %q", config.Materialized),
		}
	}
	return config, nil
}

var unknownFieldPattern = regexp.MustCompile(`field (\S+) not found in type`)

// unknownField extracts the field name from yaml.v3's strict-mode error.
func unknownField(err error) (string, bool) {
	m := unknownFieldPattern.FindStringSubmatch(err.Error())
	if m == nil {
		return "", false
	}
	return m[1], true
}

// NodeConfig converts the frontmatter to node configuration.
func (c *FrontmatterConfig) NodeConfig() core.NodeConfig {
	return core.NodeConfig{
		Materialized: c.Materialized,
		Schema:       c.Schema,
		UniqueKey:    c.UniqueKey,
		Tags:         c.Tags,
		Meta:         c.Meta,
	}
}

// ApplyDefaults fills the model name from the file name.
func (c *FrontmatterConfig) ApplyDefaults(filename string) {
	if c.Name == "" {
		c.Name = strings.TrimSuffix(filename, ".sql")
	}
}

// FrontmatterParseError represents a frontmatter parsing error.
type FrontmatterParseError struct {
	File    string
	Message string
}

func (e *FrontmatterParseError) Error() string {
	if e.File != "" {
		return fmt.Sprintf("%s: %s", e.File, e.Message)
	}
	return e.Message
}

// UnknownFieldError represents an error for unknown frontmatter fields.
type UnknownFieldError struct {
	File  string
	Field string
}

func (e *UnknownFieldError) Error() string {
	msg := fmt.Sprintf("unknown field %q in frontmatter, use \"meta\" field for custom fields", e.Field)
	if e.File != "" {
		return fmt.Sprintf("%s: %s", e.File, msg)
	}
	return msg
}
