package lineitem

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateReference is returned when a catalog entry is already present for its kind.
	ErrDuplicateReference = errors.New("line item already selected")
	// ErrNotFound indicates no item exists at the requested position.
	ErrNotFound = errors.New("line item not found")
	// ErrParentOwned is returned when a request-sourced item is edited in a way only its parent may.
	ErrParentOwned = errors.New("line item belongs to a parent request")
	// ErrInvalidKind is returned for items without a known kind.
	ErrInvalidKind = errors.New("invalid line item kind")
)

// Store keeps the active line items per kind in insertion order. It is not
// safe for concurrent use; the owning aggregator serialises access.
type Store struct {
	items map[Kind][]Item
	next  map[Kind]int
	refs  map[key]int
}

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{
		items: make(map[Kind][]Item),
		next:  make(map[Kind]int),
		refs:  make(map[key]int),
	}
}

// Add appends the item, assigning the next index for its kind.
func (s *Store) Add(item Item) (Item, error) {
	if !item.Kind.Valid() {
		return Item{}, ErrInvalidKind
	}
	if _, exists := s.refs[item.key()]; exists {
		return Item{}, fmt.Errorf("%s %d: %w", item.Kind, item.ReferenceID, ErrDuplicateReference)
	}
	return s.insert(item), nil
}

// AddAll inserts every item or none of them. Duplicates against the store or
// inside the batch reject the whole batch.
func (s *Store) AddAll(items []Item) ([]Item, error) {
	seen := make(map[key]struct{}, len(items))
	for _, item := range items {
		if !item.Kind.Valid() {
			return nil, ErrInvalidKind
		}
		k := item.key()
		if _, exists := s.refs[k]; exists {
			return nil, fmt.Errorf("%s %d: %w", item.Kind, item.ReferenceID, ErrDuplicateReference)
		}
		if _, dup := seen[k]; dup {
			return nil, fmt.Errorf("%s %d repeated in batch: %w", item.Kind, item.ReferenceID, ErrDuplicateReference)
		}
		seen[k] = struct{}{}
	}
	added := make([]Item, 0, len(items))
	for _, item := range items {
		added = append(added, s.insert(item))
	}
	return added, nil
}

func (s *Store) insert(item Item) Item {
	s.next[item.Kind]++
	item.Index = s.next[item.Kind]
	item.ParentRequestID = cloneID(item.ParentRequestID)
	s.items[item.Kind] = append(s.items[item.Kind], item)
	s.refs[item.key()] = item.Index
	return clone(item)
}

// Remove deletes the item at index. It reports whether anything was removed.
func (s *Store) Remove(kind Kind, index int) bool {
	pos := s.position(kind, index)
	if pos < 0 {
		return false
	}
	list := s.items[kind]
	delete(s.refs, list[pos].key())
	s.items[kind] = append(list[:pos], list[pos+1:]...)
	return true
}

// RemoveByParent deletes every item, of any kind, imported from parentID and
// returns how many were removed.
func (s *Store) RemoveByParent(parentID int64) int {
	removed := 0
	for kind, list := range s.items {
		kept := list[:0]
		for _, item := range list {
			if item.BelongsTo(parentID) {
				delete(s.refs, item.key())
				removed++
				continue
			}
			kept = append(kept, item)
		}
		s.items[kind] = kept
	}
	return removed
}

// List returns a copy of the items of kind in insertion order.
func (s *Store) List(kind Kind) []Item {
	list := s.items[kind]
	out := make([]Item, 0, len(list))
	for _, item := range list {
		out = append(out, clone(item))
	}
	return out
}

// All returns every item, consumables first.
func (s *Store) All() []Item {
	var out []Item
	for _, kind := range Kinds() {
		out = append(out, s.List(kind)...)
	}
	return out
}

// Get returns a copy of the item at index.
func (s *Store) Get(kind Kind, index int) (Item, bool) {
	pos := s.position(kind, index)
	if pos < 0 {
		return Item{}, false
	}
	return clone(s.items[kind][pos]), true
}

// Update applies fn to a copy of the item and stores the result. Identity
// fields (kind, index, reference, parent, ceiling of request-sourced items)
// are restored after fn runs.
func (s *Store) Update(kind Kind, index int, fn func(*Item) error) (Item, error) {
	pos := s.position(kind, index)
	if pos < 0 {
		return Item{}, fmt.Errorf("%s #%d: %w", kind, index, ErrNotFound)
	}
	current := s.items[kind][pos]
	next := clone(current)
	if err := fn(&next); err != nil {
		return Item{}, err
	}
	next.Kind = current.Kind
	next.Index = current.Index
	next.ReferenceID = current.ReferenceID
	next.ParentRequestID = cloneID(current.ParentRequestID)
	if !current.Manual() {
		next.Ceiling = current.Ceiling
	}
	s.items[kind][pos] = next
	return clone(next), nil
}

// Len reports the total number of items across kinds.
func (s *Store) Len() int {
	total := 0
	for _, list := range s.items {
		total += len(list)
	}
	return total
}

func (s *Store) position(kind Kind, index int) int {
	for i, item := range s.items[kind] {
		if item.Index == index {
			return i
		}
	}
	return -1
}

func clone(item Item) Item {
	item.ParentRequestID = cloneID(item.ParentRequestID)
	return item
}

func cloneID(id *int64) *int64 {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}
