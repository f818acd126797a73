// Package memstore provides an in-memory store.Client for tests and local replay.
//
// Records are kept as DynamoDB attribute maps so values round-trip through the
// same encoding as the DynamoDB adapter. Atomic writes are applied to a copy of
// the touched records and swapped in only when every write succeeds.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/propsync/store"
)

// Op identifies a store operation for fault injection and call counting.
type Op string

const (
	OpGet         Op = "get"
	OpSet         Op = "set"
	OpRemove      Op = "remove"
	OpQuery       Op = "query"
	OpAtomicWrite Op = "atomicWrite"
)

// FaultFunc is consulted before each operation. A non-nil error fails the
// operation without touching state.
type FaultFunc func(op Op, paths []store.Path) error

// Store is an in-memory store.Client.
type Store struct {
	mu      sync.Mutex
	records map[string]map[string]map[string]types.AttributeValue
	calls   map[Op]int
	fault   FaultFunc
}

var _ store.Client = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		records: make(map[string]map[string]map[string]types.AttributeValue),
		calls:   make(map[Op]int),
	}
}

// SetFault installs f as the fault hook. Pass nil to clear it.
func (s *Store) SetFault(f FaultFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fault = f
}

// FailAfter returns a fault hook that lets n write operations (set, remove,
// atomicWrite) succeed and fails every later one with err.
func FailAfter(n int, err error) FaultFunc {
	var mu sync.Mutex
	seen := 0
	return func(op Op, _ []store.Path) error {
		if op != OpSet && op != OpRemove && op != OpAtomicWrite {
			return nil
		}
		mu.Lock()
		defer mu.Unlock()
		seen++
		if seen > n {
			return err
		}
		return nil
	}
}

// Calls returns how many times op was attempted.
func (s *Store) Calls(op Op) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// Writes returns the number of attempted write operations.
func (s *Store) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[OpSet] + s.calls[OpRemove] + s.calls[OpAtomicWrite]
}

// Put stores v as the record collection/id without counting it as a call.
// Used to seed fixtures.
func (s *Store) Put(collection, id string, v any) error {
	item, err := store.MarshalRecord(id, v)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collection(collection)[id] = item
	return nil
}

// Item returns a copy of the raw record collection/id.
func (s *Store) Item(collection, id string) (map[string]types.AttributeValue, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.records[collection][id]
	if !ok {
		return nil, false
	}
	return cloneItem(item), true
}

// Snapshot returns a deep copy of every record, keyed by collection and id.
func (s *Store) Snapshot() map[string]map[string]map[string]types.AttributeValue {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]map[string]map[string]types.AttributeValue, len(s.records))
	for coll, items := range s.records {
		out[coll] = make(map[string]map[string]types.AttributeValue, len(items))
		for id, item := range items {
			out[coll][id] = cloneItem(item)
		}
	}
	return out
}

func (s *Store) collection(name string) map[string]map[string]types.AttributeValue {
	c, ok := s.records[name]
	if !ok {
		c = make(map[string]map[string]types.AttributeValue)
		s.records[name] = c
	}
	return c
}

func (s *Store) begin(op Op, paths ...store.Path) error {
	s.calls[op]++
	if s.fault != nil {
		return s.fault(op, paths)
	}
	return nil
}

// Get decodes the value at path into out.
func (s *Store) Get(ctx context.Context, path store.Path, out any) error {
	if err := path.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.begin(OpGet, path); err != nil {
		return err
	}

	item, ok := s.records[path.Collection][path.ID]
	if !ok || store.IsDeleted(item) {
		return store.ErrNotFound
	}
	av, ok := store.Lookup(item, path.Attr)
	if !ok {
		return store.ErrNotFound
	}
	if _, isNull := av.(*types.AttributeValueMemberNULL); isNull {
		return store.ErrNotFound
	}
	return attributevalue.Unmarshal(av, out)
}

// Set replaces the value at path, creating missing parents.
func (s *Store) Set(ctx context.Context, path store.Path, value any) error {
	return s.apply(ctx, OpSet, []store.Write{store.SetWrite(path, value)})
}

// Remove deletes the value at path.
func (s *Store) Remove(ctx context.Context, path store.Path) error {
	return s.apply(ctx, OpRemove, []store.Write{store.DeleteWrite(path)})
}

// AtomicWrite applies every write or none.
func (s *Store) AtomicWrite(ctx context.Context, writes []store.Write) error {
	if len(writes) == 0 {
		return nil
	}
	return s.apply(ctx, OpAtomicWrite, writes)
}

func (s *Store) apply(ctx context.Context, op Op, writes []store.Write) error {
	paths := make([]store.Path, len(writes))
	for i, w := range writes {
		if err := w.Path.Validate(); err != nil {
			return err
		}
		paths[i] = w.Path
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.begin(op, paths...); err != nil {
		return err
	}

	// Stage copies of touched records; commit only if every write applies.
	type recordKey struct{ collection, id string }
	staged := make(map[recordKey]map[string]types.AttributeValue)
	removed := make(map[recordKey]bool)

	for _, w := range writes {
		key := recordKey{w.Path.Collection, w.Path.ID}

		if w.Path.IsRecord() {
			if w.Delete {
				delete(staged, key)
				removed[key] = true
				continue
			}
			item, err := store.MarshalRecord(w.Path.ID, w.Value)
			if err != nil {
				return fmt.Errorf("%s: %w", w.Path, err)
			}
			staged[key] = item
			delete(removed, key)
			continue
		}

		item, ok := staged[key]
		if !ok {
			if removed[key] {
				item = nil
			} else if cur, exists := s.records[key.collection][key.id]; exists {
				item = cloneItem(cur)
			}
		}

		if w.Delete {
			if item != nil {
				removeAt(item, w.Path.Attr)
				staged[key] = item
			}
			continue
		}

		av, err := store.MarshalValue(w.Value)
		if err != nil {
			return fmt.Errorf("%s: %w", w.Path, err)
		}
		if item == nil {
			item = map[string]types.AttributeValue{
				"id": &types.AttributeValueMemberS{Value: key.id},
			}
		}
		if err := setAt(item, w.Path.Attr, av); err != nil {
			return fmt.Errorf("%s: %w", w.Path, err)
		}
		staged[key] = item
		delete(removed, key)
	}

	for key := range removed {
		delete(s.collection(key.collection), key.id)
	}
	for key, item := range staged {
		s.collection(key.collection)[key.id] = item
	}
	return nil
}

// Query returns live records of collection whose string attribute field equals value,
// ordered by id.
func (s *Store) Query(ctx context.Context, collection, field, value string) ([]store.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.begin(OpQuery, store.RecordPath(collection, "*")); err != nil {
		return nil, err
	}

	var records []store.Record
	for id, item := range s.records[collection] {
		if store.IsDeleted(item) {
			continue
		}
		v, ok := item[field].(*types.AttributeValueMemberS)
		if !ok || v.Value != value {
			continue
		}
		records = append(records, store.Record{
			Path: store.RecordPath(collection, id),
			Item: cloneItem(item),
		})
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].Path.ID < records[j].Path.ID
	})
	return records, nil
}

var errNotAMap = errors.New("parent is not a map")

// setAt stores v at attr inside item, creating intermediate maps.
func setAt(item map[string]types.AttributeValue, attr []string, v types.AttributeValue) error {
	cur := item
	for _, name := range attr[:len(attr)-1] {
		next, ok := cur[name]
		if !ok {
			m := &types.AttributeValueMemberM{Value: make(map[string]types.AttributeValue)}
			cur[name] = m
			cur = m.Value
			continue
		}
		m, ok := next.(*types.AttributeValueMemberM)
		if !ok {
			return errNotAMap
		}
		cur = m.Value
	}
	cur[attr[len(attr)-1]] = v
	return nil
}

// removeAt deletes attr inside item. Missing parents are ignored.
func removeAt(item map[string]types.AttributeValue, attr []string) {
	cur := item
	for _, name := range attr[:len(attr)-1] {
		m, ok := cur[name].(*types.AttributeValueMemberM)
		if !ok {
			return
		}
		cur = m.Value
	}
	delete(cur, attr[len(attr)-1])
}

func cloneItem(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	out := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v types.AttributeValue) types.AttributeValue {
	switch tv := v.(type) {
	case *types.AttributeValueMemberM:
		return &types.AttributeValueMemberM{Value: cloneItem(tv.Value)}
	case *types.AttributeValueMemberL:
		l := make([]types.AttributeValue, len(tv.Value))
		for i, e := range tv.Value {
			l[i] = cloneValue(e)
		}
		return &types.AttributeValueMemberL{Value: l}
	default:
		// Scalars are never mutated in place.
		return v
	}
}
