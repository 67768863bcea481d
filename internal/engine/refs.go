package engine

// batchRefs maps client generated ids to the server ids assigned by creates
// earlier in the same batch, per entity kind.
type batchRefs struct {
	ids map[string]map[string]string
}

func newBatchRefs() *batchRefs {
	return &batchRefs{ids: make(map[string]map[string]string)}
}

func (r *batchRefs) add(kind, clientGeneratedID, serverID string) {
	if clientGeneratedID == "" || serverID == "" {
		return
	}
	m, ok := r.ids[kind]
	if !ok {
		m = make(map[string]string)
		r.ids[kind] = m
	}
	m[clientGeneratedID] = serverID
}

// Lookup implements kind.Refs.
func (r *batchRefs) Lookup(kind, clientGeneratedID string) (string, bool) {
	id, ok := r.ids[kind][clientGeneratedID]
	return id, ok
}
