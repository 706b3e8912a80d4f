package docstore

import (
	"encoding/json"
	"fmt"
	"reflect"
	"time"
)

type serverTimestamp struct{}

// ServerTimestamp is replaced by the commit time when a write is applied.
var ServerTimestamp any = serverTimestamp{}

type arrayUnion struct {
	values []any
}

// ArrayUnion adds each value to the array field unless an equal element is already
// present. A missing or non-array field becomes the array of values.
func ArrayUnion(values ...any) any {
	return arrayUnion{values: values}
}

// WriteKind selects the precondition and merge behaviour of a Write.
type WriteKind int

const (
	WriteSet WriteKind = iota
	WriteMerge
	WriteCreate
	WriteUpdate
)

func (k WriteKind) String() string {
	switch k {
	case WriteSet:
		return "set"
	case WriteMerge:
		return "merge"
	case WriteCreate:
		return "create"
	case WriteUpdate:
		return "update"
	default:
		return fmt.Sprintf("WriteKind(%d)", int(k))
	}
}

// Write is one buffered document mutation.
type Write struct {
	Kind       WriteKind
	Collection string
	ID         string
	Data       map[string]any
}

// Path returns collection/id.
func (w Write) Path() string {
	return w.Collection + "/" + w.ID
}

// Apply computes the document produced by w on top of current. exists tells whether
// the document is present; current is ignored when it is not. The result holds only
// JSON types.
func (w Write) Apply(current map[string]any, exists bool, now time.Time) (map[string]any, error) {
	var base map[string]any
	switch w.Kind {
	case WriteCreate:
		if exists {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, w.Path())
		}
		base = map[string]any{}
	case WriteUpdate:
		if !exists {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, w.Path())
		}
		base = clone(current)
	case WriteMerge:
		if exists {
			base = clone(current)
		} else {
			base = map[string]any{}
		}
	default:
		base = map[string]any{}
	}

	for field, value := range w.Data {
		resolved, err := resolve(value, base[field], now)
		if err != nil {
			return nil, fmt.Errorf("docstore: %s field %q: %w", w.Path(), field, err)
		}
		base[field] = resolved
	}
	out, err := normalize(base)
	if err != nil {
		return nil, fmt.Errorf("docstore: %s: %w", w.Path(), err)
	}
	return out.(map[string]any), nil
}

func resolve(value, existing any, now time.Time) (any, error) {
	switch v := value.(type) {
	case serverTimestamp:
		return now.UTC(), nil
	case arrayUnion:
		return union(existing, v.values)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, nested := range v {
			r, err := resolve(nested, nil, now)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	default:
		return value, nil
	}
}

func union(existing any, values []any) (any, error) {
	current, _ := existing.([]any)
	out := make([]any, 0, len(current)+len(values))
	out = append(out, current...)
	for _, raw := range values {
		v, err := normalize(raw)
		if err != nil {
			return nil, err
		}
		if !containsValue(out, v) {
			out = append(out, v)
		}
	}
	return out, nil
}

func containsValue(list []any, v any) bool {
	for _, item := range list {
		if reflect.DeepEqual(item, v) {
			return true
		}
	}
	return false
}

// normalize converts v to the types encoding/json produces when decoding into any.
func normalize(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// MatchesAll reports whether data satisfies every filter.
func MatchesAll(data map[string]any, filters []Filter) bool {
	for _, f := range filters {
		want, err := normalize(f.Value)
		if err != nil {
			return false
		}
		got, ok := data[f.Field]
		if !ok || !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}

func clone(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return clone(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}

// WriteBuffer collects the writes of one transaction. Backends embed it in their Tx.
type WriteBuffer struct {
	writes []Write
}

func (b *WriteBuffer) Set(collection, id string, data map[string]any, opts ...SetOption) error {
	kind := WriteSet
	for _, o := range opts {
		if o == MergeAll {
			kind = WriteMerge
		}
	}
	return b.add(Write{Kind: kind, Collection: collection, ID: id, Data: data})
}

func (b *WriteBuffer) Create(collection, id string, data map[string]any) error {
	return b.add(Write{Kind: WriteCreate, Collection: collection, ID: id, Data: data})
}

func (b *WriteBuffer) Update(collection, id string, data map[string]any) error {
	return b.add(Write{Kind: WriteUpdate, Collection: collection, ID: id, Data: data})
}

func (b *WriteBuffer) add(w Write) error {
	if w.Collection == "" || w.ID == "" {
		return fmt.Errorf("docstore: %s needs a collection and an id", w.Kind)
	}
	b.writes = append(b.writes, w)
	return nil
}

// Writes returns the buffered writes in the order they were issued.
func (b *WriteBuffer) Writes() []Write {
	return b.writes
}

// staged tracks the state of every document touched while applying a transaction's
// writes, so later writes see earlier ones.
type staged struct {
	docs  map[string]stagedDoc
	order []string
}

type stagedDoc struct {
	collection string
	id         string
	data       map[string]any
	existed    bool
}

// StagedDoc is the final state of one document after ApplyWrites.
type StagedDoc struct {
	Collection string
	ID         string
	Data       map[string]any
	Existed    bool
}

// ApplyWrites runs every write in order. load fetches committed state for documents
// not yet touched.
func ApplyWrites(writes []Write, now time.Time, load func(collection, id string) (map[string]any, bool, error)) ([]StagedDoc, error) {
	st := staged{docs: map[string]stagedDoc{}}
	for _, w := range writes {
		key := w.Path()
		doc, seen := st.docs[key]
		if !seen {
			data, exists, err := load(w.Collection, w.ID)
			if err != nil {
				return nil, err
			}
			doc = stagedDoc{collection: w.Collection, id: w.ID, existed: exists}
			if exists {
				doc.data = data
			}
			st.order = append(st.order, key)
		}
		next, err := w.Apply(doc.data, doc.data != nil, now)
		if err != nil {
			return nil, err
		}
		doc.data = next
		st.docs[key] = doc
	}
	out := make([]StagedDoc, 0, len(st.order))
	for _, key := range st.order {
		d := st.docs[key]
		out = append(out, StagedDoc{Collection: d.collection, ID: d.id, Data: d.data, Existed: d.existed})
	}
	return out, nil
}
