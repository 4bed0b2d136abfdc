// Package template parses OpenKiln stack templates and resolves the
// references inside them.
//
// A template is a YAML document naming a stack and its resources.
// Property values may reference sibling resources two ways:
//
//   - ${ref:NAME} resolves to NAME's physical ID and makes NAME a hard
//     dependency, so NAME is created first.
//   - ${attr:NAME.KEY} resolves to a runtime attribute of NAME and is
//     deliberately NOT an ordering dependency; an attribute read
//     against a resource that does not exist yet fails at resolution
//     time instead.
package template

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/openkiln/openkiln/pkg/engine"
)

// Document is a parsed stack template.
type Document struct {
	// Name is the stack name.
	Name string `yaml:"name" validate:"required"`

	// Description is free-form and carried for display only.
	Description string `yaml:"description,omitempty"`

	// Resources declares the stack's resources.
	Resources []ResourceDef `yaml:"resources" validate:"required,min=1,dive"`
}

// ResourceDef declares one resource.
type ResourceDef struct {
	// Name is the logical name, unique within the template.
	Name string `yaml:"name" validate:"required"`

	// Type names the handler that manages the resource.
	Type string `yaml:"type" validate:"required"`

	// Properties is the raw property tree, references unresolved.
	Properties map[string]interface{} `yaml:"properties,omitempty"`

	// DependsOn lists explicit dependency names.
	DependsOn []string `yaml:"depends_on,omitempty"`
}

// Parser parses and validates templates.
type Parser struct {
	validator *validator.Validate
}

// NewParser creates a template parser.
func NewParser() *Parser {
	return &Parser{validator: validator.New()}
}

// Parse parses a YAML template and validates its structure. Malformed
// YAML and constraint violations both surface as validation errors,
// before any provider is touched.
func (p *Parser) Parse(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, engine.NewValidationError("template is not valid YAML", err)
	}

	if err := p.validator.Struct(&doc); err != nil {
		return nil, engine.NewValidationError("template validation failed", err)
	}

	seen := make(map[string]bool, len(doc.Resources))
	for _, r := range doc.Resources {
		if seen[r.Name] {
			return nil, engine.NewValidationError(
				fmt.Sprintf("duplicate resource name: %s", r.Name), nil)
		}
		seen[r.Name] = true
		for _, dep := range r.DependsOn {
			if dep == r.Name {
				return nil, engine.NewValidationError(
					fmt.Sprintf("resource %s depends on itself", r.Name), nil)
			}
		}
	}

	// Explicit depends_on targets must exist; implicit references to
	// unknown names are the graph builder's concern.
	for _, r := range doc.Resources {
		for _, dep := range r.DependsOn {
			if !seen[dep] {
				return nil, engine.NewValidationError(
					fmt.Sprintf("resource %s depends on unknown resource %s", r.Name, dep), nil)
			}
		}
	}

	return &doc, nil
}

// ParseFile reads and parses a template file.
func (p *Parser) ParseFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, engine.NewValidationError(
			fmt.Sprintf("failed to read template %s", path), err)
	}
	return p.Parse(data)
}

// Definitions converts the template's resources to engine definitions.
func (d *Document) Definitions() []engine.ResourceDefinition {
	defs := make([]engine.ResourceDefinition, 0, len(d.Resources))
	for _, r := range d.Resources {
		defs = append(defs, engine.ResourceDefinition{
			Name:       r.Name,
			Type:       r.Type,
			Properties: r.Properties,
			DependsOn:  r.DependsOn,
		})
	}
	return defs
}
