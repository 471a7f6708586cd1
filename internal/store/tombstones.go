package store

// maxTombstones bounds how many pruned task ids are remembered.
const maxTombstones = 4096

// tombstones is a bounded set of removed ids. The oldest id is forgotten
// first once the set is full.
type tombstones struct {
	ids   map[string]struct{}
	order []string
	limit int
}

func newTombstones(limit int) *tombstones {
	return &tombstones{ids: make(map[string]struct{}), limit: limit}
}

func (t *tombstones) add(id string) {
	if _, ok := t.ids[id]; ok {
		return
	}
	for len(t.order) >= t.limit {
		oldest := t.order[0]
		t.order = t.order[1:]
		delete(t.ids, oldest)
	}
	t.ids[id] = struct{}{}
	t.order = append(t.order, id)
}

func (t *tombstones) has(id string) bool {
	_, ok := t.ids[id]
	return ok
}

// forget drops id, e.g. when the entity is added again.
func (t *tombstones) forget(id string) {
	if _, ok := t.ids[id]; !ok {
		return
	}
	delete(t.ids, id)
	for i, o := range t.order {
		if o == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
}
