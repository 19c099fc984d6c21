// Package catalog turns declarative YAML check definitions into executable
// checks. A catalog is one or more documents, each with its own defaults,
// merged in load order.
package catalog

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/y0f/apiprobe/internal/assertion"
	"github.com/y0f/apiprobe/internal/poll"
)

// Document is a single catalog file.
type Document struct {
	Vars     map[string]any `yaml:"vars"`
	Defaults Defaults       `yaml:"defaults"`
	Checks   []Definition   `yaml:"checks"`

	Source string `yaml:"-"`
}

// Defaults apply to every check of the document that declares them.
type Defaults struct {
	Timeout time.Duration     `yaml:"timeout"`
	Headers map[string]string `yaml:"headers"`
}

// Definition declares one check. Exactly one of Request, WebSocket and TCP
// must be set.
type Definition struct {
	Name        string                 `yaml:"name"`
	Description string                 `yaml:"description"`
	DependsOn   []string               `yaml:"depends_on"`
	Timeout     time.Duration          `yaml:"timeout"`
	Request     *RequestSpec           `yaml:"request"`
	WebSocket   *WebSocketSpec         `yaml:"websocket"`
	TCP         *TCPSpec               `yaml:"tcp"`
	Expect      assertion.ConditionSet `yaml:"expect"`
	Produces    *ProducesSpec          `yaml:"produces"`
	Poll        *PollSpec              `yaml:"poll"`
}

// RequestSpec is an HTTP call. String fields are templates.
type RequestSpec struct {
	Method    string            `yaml:"method"`
	Path      string            `yaml:"path"`
	Query     map[string]string `yaml:"query"`
	Headers   map[string]string `yaml:"headers"`
	Body      string            `yaml:"body"`
	JSON      any               `yaml:"json"`
	Anonymous bool              `yaml:"anonymous"` // send without session credentials
}

// WebSocketSpec is a WebSocket handshake with an optional message exchange.
type WebSocketSpec struct {
	Path      string            `yaml:"path"`
	Headers   map[string]string `yaml:"headers"`
	Send      string            `yaml:"send"`
	AwaitRead bool              `yaml:"await_read"`
	Anonymous bool              `yaml:"anonymous"`
}

// TCPSpec is a raw TCP connect. An empty address means the target host.
type TCPSpec struct {
	Address string `yaml:"address"`
}

// ProducesSpec names the session key a passing check fills and where the
// value comes from.
type ProducesSpec struct {
	Key  string `yaml:"key"`
	From string `yaml:"from"` // json (default), header or body
	Path string `yaml:"path"` // json path or header name, defaults to Key
}

// UnmarshalYAML accepts a bare key as shorthand for a top-level JSON field.
func (p *ProducesSpec) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*p = ProducesSpec{Key: node.Value}
		return nil
	}
	type plain ProducesSpec
	var v plain
	if err := node.Decode(&v); err != nil {
		return err
	}
	*p = ProducesSpec(v)
	return nil
}

// PollSpec repeats the action until Until (or Expect when Until is empty)
// passes.
type PollSpec struct {
	Interval    time.Duration          `yaml:"interval"`
	MaxInterval time.Duration          `yaml:"max_interval"`
	Deadline    time.Duration          `yaml:"deadline"`
	Strategy    poll.Strategy          `yaml:"strategy"`
	Until       assertion.ConditionSet `yaml:"until"`
}

func (p *PollSpec) config() poll.Config {
	return poll.Config{
		Interval:    p.Interval,
		MaxInterval: p.MaxInterval,
		Deadline:    p.Deadline,
		Strategy:    p.Strategy,
	}
}

// Parse decodes a catalog document. Unknown fields are rejected.
func Parse(data []byte, source string) (*Document, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var doc Document
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return &Document{Source: source}, nil
		}
		return nil, fmt.Errorf("parsing catalog %s: %w", source, err)
	}
	doc.Source = source
	return &doc, nil
}

// LoadFile reads and parses a catalog file.
func LoadFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog: %w", err)
	}
	return Parse(data, path)
}

// Catalog is an ordered set of definitions from one or more documents.
type Catalog struct {
	vars    map[string]any
	entries []entry
}

type entry struct {
	def      Definition
	defaults Defaults
	source   string
}

// New merges documents in order. Later vars override earlier ones.
func New(docs ...*Document) *Catalog {
	c := &Catalog{vars: map[string]any{}}
	for _, d := range docs {
		if d == nil {
			continue
		}
		for k, v := range d.Vars {
			c.vars[k] = v
		}
		for _, def := range d.Checks {
			c.entries = append(c.entries, entry{def: def, defaults: d.Defaults, source: d.Source})
		}
	}
	return c
}

// SetVar overrides a variable, as from the command line.
func (c *Catalog) SetVar(key string, v any) {
	c.vars[key] = v
}

// Vars returns a copy of the merged variables. They seed the session store.
func (c *Catalog) Vars() map[string]any {
	out := make(map[string]any, len(c.vars))
	for k, v := range c.vars {
		out[k] = v
	}
	return out
}

// Len returns the number of definitions.
func (c *Catalog) Len() int { return len(c.entries) }

// Names lists definition names in declaration order.
func (c *Catalog) Names() []string {
	out := make([]string, len(c.entries))
	for i, e := range c.entries {
		out[i] = e.def.Name
	}
	return out
}
