package ring

import "sort"

// Diff computes, for every pnode present in either a's or b's pnode-set,
// the vnodes it lost and gained going from a to b (spec.md §4.6). Only
// pnodes with a non-empty added or removed list are present in the result;
// per-vnode data is ignored.
func Diff(a, b *Ring) map[Pnode]*PnodeDelta {
	a.mu.RLock()
	aOwned := ownershipSnapshotLocked(a)
	a.mu.RUnlock()

	b.mu.RLock()
	bOwned := ownershipSnapshotLocked(b)
	b.mu.RUnlock()

	pnodes := make(map[Pnode]struct{})
	for p := range aOwned {
		pnodes[p] = struct{}{}
	}
	for p := range bOwned {
		pnodes[p] = struct{}{}
	}

	out := make(map[Pnode]*PnodeDelta)
	for p := range pnodes {
		removed := setDifference(aOwned[p], bOwned[p])
		added := setDifference(bOwned[p], aOwned[p])
		if len(removed) == 0 && len(added) == 0 {
			continue
		}
		sort.Ints(removed)
		sort.Ints(added)
		out[p] = &PnodeDelta{Added: added, Removed: removed}
	}
	return out
}

// ownershipSnapshotLocked builds pnode -> set(vnode) for r. Caller must
// hold at least a read lock.
func ownershipSnapshotLocked(r *Ring) map[Pnode]map[int]struct{} {
	out := make(map[Pnode]map[int]struct{}, len(r.pnodes))
	for _, p := range r.pnodes {
		out[p] = make(map[int]struct{})
	}
	for v, p := range r.vnodeOwner {
		if out[p] == nil {
			out[p] = make(map[int]struct{})
		}
		out[p][v] = struct{}{}
	}
	return out
}

func setDifference(a, b map[int]struct{}) []int {
	var out []int
	for v := range a {
		if _, ok := b[v]; !ok {
			out = append(out, v)
		}
	}
	return out
}
