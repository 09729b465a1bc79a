// Package capability implements the table of actions an agent may request.
//
// A Table is built once from a list of entries and is read-only afterwards.
// Each entry pairs a unique name with a declared JSON input schema and a
// handler. Dispatch enforces the schema at the boundary and converts every
// fault (unknown name, invalid arguments, handler error or panic) into a
// failed ActionResult so the caller can feed it back to the oracle as data.
package capability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/invopop/jsonschema"
	"github.com/xeipuuv/gojsonschema"
)

// Handler executes one action. It owns its side effects and returns a value
// that will be JSON-encoded into the result payload.
type Handler func(ctx context.Context, args json.RawMessage) (any, error)

// Entry declares one capability.
type Entry struct {
	// Name is the unique lookup key.
	Name string
	// Description tells the oracle what the action does.
	Description string
	// InputSchema describes the accepted arguments. Nil accepts any object.
	InputSchema *jsonschema.Schema
	// Handler runs the action.
	Handler Handler
}

// Declaration is the oracle-facing description of a capability.
type Declaration struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// Table construction errors.
var (
	ErrEmptyName        = errors.New("capability name is required")
	ErrDuplicateName    = errors.New("duplicate capability name")
	ErrMissingHandler   = errors.New("capability handler is required")
	ErrUnknownSubsetKey = errors.New("subset names an unknown capability")
)

type compiled struct {
	entry     Entry
	decl      Declaration
	validator *gojsonschema.Schema
}

// Table is an immutable mapping from action name to handler.
type Table struct {
	byName map[string]*compiled
	order  []string
}

// NewTable validates the entries and compiles their schemas.
func NewTable(entries ...Entry) (*Table, error) {
	t := &Table{byName: make(map[string]*compiled, len(entries))}
	for _, e := range entries {
		if e.Name == "" {
			return nil, ErrEmptyName
		}
		if _, dup := t.byName[e.Name]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateName, e.Name)
		}
		if e.Handler == nil {
			return nil, fmt.Errorf("%w: %s", ErrMissingHandler, e.Name)
		}

		c, err := compile(e)
		if err != nil {
			return nil, fmt.Errorf("compile capability %s: %w", e.Name, err)
		}
		t.byName[e.Name] = c
		t.order = append(t.order, e.Name)
	}
	return t, nil
}

// MustTable is NewTable that panics on error. Intended for static tables.
func MustTable(entries ...Entry) *Table {
	t, err := NewTable(entries...)
	if err != nil {
		panic(err)
	}
	return t
}

// Len returns the number of capabilities.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.order)
}

// Lookup returns the entry registered under name.
func (t *Table) Lookup(name string) (Entry, bool) {
	if t == nil {
		return Entry{}, false
	}
	c, ok := t.byName[name]
	if !ok {
		return Entry{}, false
	}
	return c.entry, true
}

// Names returns the capability names in declaration order.
func (t *Table) Names() []string {
	if t == nil {
		return nil
	}
	return append([]string(nil), t.order...)
}

// Declarations returns the oracle-facing declarations in declaration order.
func (t *Table) Declarations() []Declaration {
	if t == nil {
		return nil
	}
	decls := make([]Declaration, 0, len(t.order))
	for _, name := range t.order {
		decls = append(decls, t.byName[name].decl)
	}
	return decls
}

// Subset derives a new table restricted to the given names.
// The declaration order of the parent table is preserved.
func (t *Table) Subset(names ...string) (*Table, error) {
	if t == nil {
		t = &Table{}
	}
	want := make(map[string]bool, len(names))
	var missing []string
	for _, n := range names {
		if _, ok := t.byName[n]; !ok {
			missing = append(missing, n)
			continue
		}
		want[n] = true
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("%w: %v", ErrUnknownSubsetKey, missing)
	}

	sub := &Table{byName: make(map[string]*compiled, len(want))}
	for _, name := range t.order {
		if want[name] {
			sub.byName[name] = t.byName[name]
			sub.order = append(sub.order, name)
		}
	}
	return sub, nil
}
