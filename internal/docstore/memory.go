package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/ariefcatur/ramro-storefront/internal/clock"
	"github.com/ariefcatur/ramro-storefront/internal/domain"
)

// Memory is an in-process Store. Every operation is atomic under one mutex.
type Memory struct {
	mu    sync.RWMutex
	docs  map[string]map[string]Document
	clock clock.Clock
}

func NewMemory(clk clock.Clock) *Memory {
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &Memory{docs: make(map[string]map[string]Document), clock: clk}
}

func (m *Memory) Get(_ context.Context, kind, id string) (Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[kind][id]
	if !ok {
		return Document{}, fmt.Errorf("%s/%s: %w", kind, id, domain.ErrNotFound)
	}
	return clone(doc), nil
}

func (m *Memory) Set(_ context.Context, kind, id string, value any, merge bool) (Document, error) {
	data, err := encode(value)
	if err != nil {
		return Document{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	cur, exists := m.docs[kind][id]
	if merge && exists {
		data, err = mergeJSON(cur.Data, data)
		if err != nil {
			return Document{}, err
		}
	}
	return m.put(kind, id, cur.Version+1, data), nil
}

func (m *Memory) UpdateIf(_ context.Context, kind, id string, version int64, value any) (Document, error) {
	data, err := encode(value)
	if err != nil {
		return Document{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	cur, exists := m.docs[kind][id]
	switch {
	case !exists && version != 0:
		return Document{}, fmt.Errorf("%s/%s: %w", kind, id, domain.ErrNotFound)
	case exists && cur.Version != version:
		return Document{}, fmt.Errorf("%s/%s at version %d: %w", kind, id, version, domain.ErrVersionConflict)
	}
	return m.put(kind, id, version+1, data), nil
}

func (m *Memory) Query(_ context.Context, kind string, q Query) ([]Document, error) {
	for _, f := range q.Filters {
		if !validOp(f.Op) {
			return nil, fmt.Errorf("query %s: unsupported operator %q", kind, f.Op)
		}
	}
	filters, err := normalizeFilters(q.Filters)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	type row struct {
		doc    Document
		fields map[string]any
	}
	rows := make([]row, 0, len(m.docs[kind]))
	for _, doc := range m.docs[kind] {
		var fields map[string]any
		if err := json.Unmarshal(doc.Data, &fields); err != nil {
			m.mu.RUnlock()
			return nil, fmt.Errorf("query %s: %w", kind, err)
		}
		if matches(fields, filters) {
			rows = append(rows, row{doc: clone(doc), fields: fields})
		}
	}
	m.mu.RUnlock()

	sort.SliceStable(rows, func(i, j int) bool {
		if q.OrderBy == "" {
			return rows[i].doc.ID < rows[j].doc.ID
		}
		c, _ := compare(rows[i].fields[q.OrderBy], rows[j].fields[q.OrderBy])
		if c == 0 {
			return rows[i].doc.ID < rows[j].doc.ID
		}
		if q.Desc {
			return c > 0
		}
		return c < 0
	})

	out := make([]Document, 0, len(rows))
	for _, r := range rows {
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
		out = append(out, r.doc)
	}
	return out, nil
}

func (m *Memory) Delete(_ context.Context, kind, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[kind][id]; !ok {
		return fmt.Errorf("%s/%s: %w", kind, id, domain.ErrNotFound)
	}
	delete(m.docs[kind], id)
	return nil
}

func (m *Memory) put(kind, id string, version int64, data json.RawMessage) Document {
	if m.docs[kind] == nil {
		m.docs[kind] = make(map[string]Document)
	}
	doc := Document{
		Kind:      kind,
		ID:        id,
		Version:   version,
		Data:      append(json.RawMessage(nil), data...),
		UpdatedAt: m.clock.Now(),
	}
	m.docs[kind][id] = doc
	return clone(doc)
}

func clone(d Document) Document {
	d.Data = append(json.RawMessage(nil), d.Data...)
	return d
}

func mergeJSON(base, patch json.RawMessage) (json.RawMessage, error) {
	var a, b map[string]json.RawMessage
	if err := json.Unmarshal(base, &a); err != nil {
		return nil, fmt.Errorf("merge base: %w", err)
	}
	if err := json.Unmarshal(patch, &b); err != nil {
		return nil, fmt.Errorf("merge patch: %w", err)
	}
	if a == nil {
		a = make(map[string]json.RawMessage, len(b))
	}
	for k, v := range b {
		a[k] = v
	}
	return json.Marshal(a)
}

// normalizeFilters round-trips filter values through JSON so they compare
// against decoded document fields with the same dynamic types.
func normalizeFilters(in []Filter) ([]Filter, error) {
	out := make([]Filter, len(in))
	for i, f := range in {
		b, err := json.Marshal(f.Value)
		if err != nil {
			return nil, fmt.Errorf("filter %s: %w", f.Field, err)
		}
		var v any
		if err := json.Unmarshal(b, &v); err != nil {
			return nil, fmt.Errorf("filter %s: %w", f.Field, err)
		}
		out[i] = Filter{Field: f.Field, Op: f.Op, Value: v}
	}
	return out, nil
}

func matches(fields map[string]any, filters []Filter) bool {
	for _, f := range filters {
		got, ok := fields[f.Field]
		if !ok {
			return false
		}
		c, comparable := compare(got, f.Value)
		if !comparable {
			if f.Op == OpNe {
				continue
			}
			return false
		}
		var pass bool
		switch f.Op {
		case OpEq:
			pass = c == 0
		case OpNe:
			pass = c != 0
		case OpLt:
			pass = c < 0
		case OpLte:
			pass = c <= 0
		case OpGt:
			pass = c > 0
		case OpGte:
			pass = c >= 0
		}
		if !pass {
			return false
		}
	}
	return true
}

func compare(a, b any) (int, bool) {
	switch x := a.(type) {
	case float64:
		y, ok := b.(float64)
		if !ok {
			return 0, false
		}
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		}
		return 0, true
	case string:
		y, ok := b.(string)
		if !ok {
			return 0, false
		}
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		}
		return 0, true
	case bool:
		y, ok := b.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case x == y:
			return 0, true
		case !x:
			return -1, true
		}
		return 1, true
	}
	return 0, false
}
