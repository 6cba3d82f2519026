package ring

import (
	"sort"

	"github.com/bytedance/sonic"
)

// Remap moves vnodes from their current owners to target, preserving each
// vnode's data value, and commits the full delta as one atomic batch
// (spec.md §4.3.1, §4.4 "Mutation commits").
func (r *Ring) Remap(target Pnode, vnodes []int) (ChangeSet, error) {
	if target == "" {
		return nil, newErr(ConfigInvalid, "target pnode must be non-empty")
	}
	if len(vnodes) == 0 {
		return nil, newErr(ConfigInvalid, "vnodes must be non-empty")
	}
	seen := make(map[int]struct{}, len(vnodes))
	for _, v := range vnodes {
		if _, dup := seen[v]; dup {
			return nil, newErr(ConfigInvalid, "duplicate vnode %d in remap request", v)
		}
		seen[v] = struct{}{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, v := range vnodes {
		if v < 0 || v >= r.v {
			return nil, newErr(VnodeOutOfRange, "vnode %d not in [0, %d)", v, r.v)
		}
		if r.vnodeOwner[v] == target {
			return nil, newErr(VnodeAlreadyOnTarget, "vnode %d already owned by %s", v, target)
		}
	}

	oldOwner := make(map[int]Pnode, len(vnodes))
	for _, v := range vnodes {
		oldOwner[v] = r.vnodeOwner[v]
	}

	targetIsNew := false
	if _, ok := r.pnodeSet[target]; !ok {
		targetIsNew = true
	}

	batch := r.kv.NewBatch()
	touchedOld := make(map[Pnode]struct{})
	for _, v := range vnodes {
		old := oldOwner[v]
		touchedOld[old] = struct{}{}
		batch.Delete([]byte(keyPnodeVnode(old, v)))
		data := r.vnodeDataOrSentinelLocked(v)
		encoded, err := sonic.Marshal(data)
		if err != nil {
			return nil, wrapErr(SerializationError, err, "marshal data for vnode %d", v)
		}
		batch.Put([]byte(keyPnodeVnode(target, v)), encoded)
		batch.Put([]byte(keyVnodeOwner(v)), []byte(target))
	}

	// Apply in-memory before recomputing the rewritten /PNODE/%s arrays, so
	// putPnodeVnodeListBatch reads post-mutation ownership.
	for _, v := range vnodes {
		r.vnodeOwner[v] = target
	}
	if targetIsNew {
		r.pnodes = append(r.pnodes, target)
		r.pnodeSet[target] = struct{}{}
	}

	for old := range touchedOld {
		if old == target {
			continue
		}
		if err := r.putPnodeVnodeListBatch(batch, old); err != nil {
			return nil, err
		}
	}
	if err := r.putPnodeVnodeListBatch(batch, target); err != nil {
		return nil, err
	}
	if targetIsNew {
		if err := r.putPnodeSetBatch(batch); err != nil {
			return nil, err
		}
	}

	if err := batch.Commit(); err != nil {
		// Roll back the in-memory mutation; the store is unchanged so the
		// ring must not claim otherwise.
		for _, v := range vnodes {
			r.vnodeOwner[v] = oldOwner[v]
		}
		if targetIsNew {
			r.pnodes = r.pnodes[:len(r.pnodes)-1]
			delete(r.pnodeSet, target)
		}
		return nil, wrapErr(StoreError, err, "commit remap batch")
	}

	cs := make(ChangeSet)
	for old := range touchedOld {
		cs[old] = &PnodeDelta{}
	}
	cs[target] = &PnodeDelta{}
	for _, v := range vnodes {
		old := oldOwner[v]
		cs[old].Removed = append(cs[old].Removed, v)
		cs[target].Added = append(cs[target].Added, v)
	}
	for _, d := range cs {
		sort.Ints(d.Added)
		sort.Ints(d.Removed)
	}
	return cs, nil
}

// putPnodeVnodeListBatch stages the rewritten /PNODE/%s array for p into
// batch, reading current in-memory ownership (caller must hold the write
// lock and have already applied the mutation to r.vnodeOwner).
func (r *Ring) putPnodeVnodeListBatch(batch interface{ Put(k, v []byte) }, p Pnode) error {
	vnodes := r.vnodesOwnedLocked(p)
	data, err := sonic.Marshal(vnodes)
	if err != nil {
		return wrapErr(SerializationError, err, "marshal vnode list for pnode %s", p)
	}
	batch.Put([]byte(keyPnode(p)), data)
	return nil
}

func (r *Ring) putPnodeSetBatch(batch interface{ Put(k, v []byte) }) error {
	data, err := sonic.Marshal(r.pnodes)
	if err != nil {
		return wrapErr(SerializationError, err, "marshal pnode set")
	}
	batch.Put([]byte(keyPnodeSet()), data)
	return nil
}

// RemovePnode removes pnode from the pnode-set, failing with
// PnodeStillInUse if it owns any vnodes, or PnodeUnknown if it was never a
// member (spec.md §4.3.2).
func (r *Ring) RemovePnode(pnode Pnode) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.pnodeSet[pnode]; !ok {
		return newErr(PnodeUnknown, "pnode %s not in pnode-set", pnode)
	}
	if owned := r.vnodesOwnedLocked(pnode); len(owned) > 0 {
		return newErr(PnodeStillInUse, "pnode %s still owns %d vnode(s)", pnode, len(owned))
	}

	idx := -1
	for i, p := range r.pnodes {
		if p == pnode {
			idx = i
			break
		}
	}
	newPnodes := make([]Pnode, 0, len(r.pnodes)-1)
	newPnodes = append(newPnodes, r.pnodes[:idx]...)
	newPnodes = append(newPnodes, r.pnodes[idx+1:]...)

	batch := r.kv.NewBatch()
	batch.Delete([]byte(keyPnode(pnode)))
	data, err := sonic.Marshal(newPnodes)
	if err != nil {
		return wrapErr(SerializationError, err, "marshal pnode set")
	}
	batch.Put([]byte(keyPnodeSet()), data)

	if err := batch.Commit(); err != nil {
		return wrapErr(StoreError, err, "commit remove-pnode batch")
	}

	r.pnodes = newPnodes
	delete(r.pnodeSet, pnode)
	return nil
}

// AddData attaches value to vnode, or — when value is nil — restores the
// sentinel default and drops vnode from the data-vnode-set (spec.md
// §4.3.3). The commit is one batch holding the per-vnode data key and the
// rewritten VNODE_DATA set, so it shares the same atomicity boundary as every
// other mutation.
func (r *Ring) AddData(vnode int, value any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if vnode < 0 || vnode >= r.v {
		return newErr(VnodeOutOfRange, "vnode %d not in [0, %d)", vnode, r.v)
	}
	owner := r.vnodeOwner[vnode]

	stored := any(sentinelData)
	if value != nil {
		stored = value
	}
	encoded, err := sonic.Marshal(stored)
	if err != nil {
		return wrapErr(SerializationError, err, "marshal data for vnode %d", vnode)
	}

	batch := r.kv.NewBatch()
	batch.Put([]byte(keyPnodeVnode(owner, vnode)), encoded)
	dataVnodes := r.dataVnodeSetAfter(vnode, value != nil)
	dataEncoded, err := sonic.Marshal(dataVnodes)
	if err != nil {
		return wrapErr(SerializationError, err, "marshal data-vnode-set")
	}
	batch.Put([]byte(keyVnodeData), dataEncoded)

	if err := batch.Commit(); err != nil {
		return wrapErr(StoreError, err, "commit add-data batch")
	}

	if value == nil {
		delete(r.vnodeData, vnode)
	} else {
		r.vnodeData[vnode] = value
	}
	return nil
}

// dataVnodeSetAfter computes the ascending data-vnode-set as it will be
// once vnode's membership is set to present/absent, without mutating
// r.vnodeData (the caller applies that only after a successful commit).
func (r *Ring) dataVnodeSetAfter(vnode int, present bool) []int {
	out := make([]int, 0, len(r.vnodeData)+1)
	for v := range r.vnodeData {
		if v == vnode {
			continue
		}
		out = append(out, v)
	}
	if present {
		out = append(out, vnode)
	}
	sort.Ints(out)
	return out
}
