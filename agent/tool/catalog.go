package tool

import (
	"errors"
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/owid-chain/agent/contract"
)

// Adapter is a Tool that knows how to describe itself to the oracle.
type Adapter interface {
	contractx.Tool
	Descriptor() contractx.ToolDescriptor
}

// Config groups the per-adapter settings loaded at startup.
type Config struct {
	OWID      OWIDConfig
	Wikipedia WikipediaConfig
	Arxiv     ArxivConfig
}

// Catalog is the fixed set of tools exposed to one agent. It is read-only
// after construction and safe to share between sessions.
type Catalog struct {
	descriptors []contractx.ToolDescriptor
	byName      map[string]contractx.ToolDescriptor
}

func NewCatalog(descriptors ...contractx.ToolDescriptor) (*Catalog, error) {
	c := &Catalog{byName: make(map[string]contractx.ToolDescriptor, len(descriptors))}
	for _, d := range descriptors {
		name := strings.TrimSpace(d.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: tool name is required", contractx.ErrValidation)
		}
		if d.Tool == nil {
			return nil, fmt.Errorf("%w: tool=%s has no implementation", contractx.ErrValidation, name)
		}
		if _, dup := c.byName[name]; dup {
			return nil, fmt.Errorf("%w: duplicate tool=%s", contractx.ErrValidation, name)
		}
		d.Name = name
		c.byName[name] = d
		c.descriptors = append(c.descriptors, d)
	}
	if len(c.descriptors) == 0 {
		return nil, errors.New("at least one tool is required")
	}
	return c, nil
}

// Build constructs every enabled adapter. The Our World in Data tool is
// always present.
func Build(cfg Config, opts ...Option) (*Catalog, error) {
	owid, err := NewOWID(cfg.OWID, opts...)
	if err != nil {
		return nil, err
	}
	adapters := []Adapter{owid}

	if cfg.Wikipedia.Enabled {
		wiki, err := NewWikipedia(cfg.Wikipedia, opts...)
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, wiki)
	}
	if cfg.Arxiv.Enabled {
		arxiv, err := NewArxiv(cfg.Arxiv, opts...)
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, arxiv)
	}

	descriptors := make([]contractx.ToolDescriptor, 0, len(adapters))
	for _, a := range adapters {
		descriptors = append(descriptors, a.Descriptor())
	}
	return NewCatalog(descriptors...)
}

// Lookup matches the registered name exactly.
func (c *Catalog) Lookup(name string) (contractx.ToolDescriptor, bool) {
	d, ok := c.byName[name]
	return d, ok
}

// Descriptors returns the tools in registration order.
func (c *Catalog) Descriptors() []contractx.ToolDescriptor {
	out := make([]contractx.ToolDescriptor, len(c.descriptors))
	copy(out, c.descriptors)
	return out
}

func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.descriptors))
	for _, d := range c.descriptors {
		names = append(names, d.Name)
	}
	return names
}
