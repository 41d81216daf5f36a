// SPDX-License-Identifier: GPL-3.0-or-later

package gnomecups

import "sync"

// registry maps request IDs to outstanding records.
//
// The mutex is only held for map operations.
type registry struct {
	mu      sync.Mutex
	lastID  RequestID
	records map[RequestID]*record
}

func newRegistry() *registry {
	return &registry{records: make(map[RequestID]*record)}
}

// register assigns the next ID to rec and stores it.
func (r *registry) register(rec *record) RequestID {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastID++
	rec.id = r.lastID
	r.records[rec.id] = rec
	return rec.id
}

// cancel flags the record with the given ID, if still outstanding.
//
// It returns whether the record was found.
func (r *registry) cancel(id RequestID) bool {
	r.mu.Lock()
	rec, found := r.records[id]
	r.mu.Unlock()
	if found {
		rec.canceled.Store(true)
	}
	return found
}

// remove deletes the record with the given ID and returns the number
// of records still outstanding.
func (r *registry) remove(id RequestID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, id)
	return len(r.records)
}

// count returns the number of outstanding records.
func (r *registry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}
