package remote

import (
	"context"
	"sort"
	"sync"

	"github.com/openfield/crmsync/internal/model"
)

// MemoryStore is an in-process Store. It backs the engine tests and
// `crmsync sync --offline` smoke runs, and doubles as the reference
// semantics for the wire protocol: merge-upserts, strict greater-than
// string queries and subscriber fan-out behave exactly as a hosted
// store is expected to.
type MemoryStore struct {
	mu      sync.Mutex
	tenants map[string]map[model.Collection]map[string]map[string]any
	subs    map[int]*memorySub
	nextSub int
	upserts map[model.Collection]int
	deletes map[model.Collection]int

	// UpsertHook, when set, runs before each upsert and can fail it.
	// Tests use it to simulate per-record push failures.
	UpsertHook func(col model.Collection, docID string) error
}

type memorySub struct {
	tenant string
	col    model.Collection
	field  string
	after  string
	h      Handler
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tenants: make(map[string]map[model.Collection]map[string]map[string]any),
		subs:    make(map[int]*memorySub),
		upserts: make(map[model.Collection]int),
		deletes: make(map[model.Collection]int),
	}
}

func (m *MemoryStore) collection(tenant string, col model.Collection) map[string]map[string]any {
	t, ok := m.tenants[tenant]
	if !ok {
		t = make(map[model.Collection]map[string]map[string]any)
		m.tenants[tenant] = t
	}
	c, ok := t[col]
	if !ok {
		c = make(map[string]map[string]any)
		t[col] = c
	}
	return c
}

// QueryGreaterThan implements Store.
func (m *MemoryStore) QueryGreaterThan(ctx context.Context, tenant string, col model.Collection, field, value string) ([]Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Document
	for id, fields := range m.collection(tenant, col) {
		if value != "" {
			fv, _ := fields[field].(string)
			if fv <= value {
				continue
			}
		}
		out = append(out, Document{ID: id, Fields: cloneFields(fields)})
	}
	sortDocs(out)
	return out, nil
}

// GetAll implements Store.
func (m *MemoryStore) GetAll(ctx context.Context, tenant string, col model.Collection) ([]Document, error) {
	return m.QueryGreaterThan(ctx, tenant, col, "", "")
}

// Get implements Store.
func (m *MemoryStore) Get(ctx context.Context, tenant string, col model.Collection, docID string) (Document, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	fields, ok := m.collection(tenant, col)[docID]
	if !ok {
		return Document{}, false, nil
	}
	return Document{ID: docID, Fields: cloneFields(fields)}, true, nil
}

// UpsertMerge implements Store. Fields merge into any existing
// document; subscribers whose predicate matches are notified.
func (m *MemoryStore) UpsertMerge(ctx context.Context, tenant string, col model.Collection, docID string, fields map[string]any) error {
	m.mu.Lock()

	if m.UpsertHook != nil {
		if err := m.UpsertHook(col, docID); err != nil {
			m.mu.Unlock()
			return err
		}
	}

	c := m.collection(tenant, col)
	existing, existed := c[docID]
	if !existed {
		existing = make(map[string]any, len(fields))
		c[docID] = existing
	}
	for k, v := range fields {
		existing[k] = v
	}
	m.upserts[col]++

	typ := Added
	if existed {
		typ = Modified
	}
	ev := Event{Type: typ, DocID: docID, Fields: cloneFields(existing)}
	handlers := m.matchingHandlers(tenant, col, existing)
	m.mu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
	return nil
}

// Delete implements Store. Subscribers receive a Removed event with
// only the document id.
func (m *MemoryStore) Delete(ctx context.Context, tenant string, col model.Collection, docID string) error {
	m.mu.Lock()

	c := m.collection(tenant, col)
	_, existed := c[docID]
	delete(c, docID)
	if existed {
		m.deletes[col]++
	}

	var handlers []Handler
	if existed {
		// Removal events carry no fields, so the predicate cannot be
		// evaluated; deliver to every subscriber of the collection.
		for _, sub := range m.subs {
			if sub.tenant == tenant && sub.col == col {
				handlers = append(handlers, sub.h)
			}
		}
	}
	m.mu.Unlock()

	for _, h := range handlers {
		h(Event{Type: Removed, DocID: docID})
	}
	return nil
}

// Subscribe implements Store.
func (m *MemoryStore) Subscribe(ctx context.Context, tenant string, col model.Collection, field, after string, h Handler) (CancelFunc, error) {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = &memorySub{tenant: tenant, col: col, field: field, after: after, h: h}
	m.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
		})
	}

	if ctx != nil {
		go func() {
			<-ctx.Done()
			cancel()
		}()
	}
	return cancel, nil
}

func (m *MemoryStore) matchingHandlers(tenant string, col model.Collection, fields map[string]any) []Handler {
	var out []Handler
	for _, sub := range m.subs {
		if sub.tenant != tenant || sub.col != col {
			continue
		}
		if sub.after != "" {
			fv, _ := fields[sub.field].(string)
			if fv <= sub.after {
				continue
			}
		}
		out = append(out, sub.h)
	}
	return out
}

// Upserts reports how many upserts a collection received. Test
// instrumentation.
func (m *MemoryStore) Upserts(col model.Collection) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upserts[col]
}

// Deletes reports how many existing documents were deleted from a
// collection. Test instrumentation.
func (m *MemoryStore) Deletes(col model.Collection) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deletes[col]
}

func cloneFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}

func sortDocs(docs []Document) {
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
}
