package ring

import (
	"fmt"
	"sort"
	"sync"

	"github.com/bytedance/sonic"

	"ringstore/store"
)

// schemaVersion is persisted verbatim under the VERSION key (spec.md §4.4)
// and echoed in the canonical serialization's "version" field (§4.5).
const schemaVersion = "2.1.0"

// Key schema (spec.md §4.4). vnodeKeyWidth zero-pads vnode ids so keys sort
// lexicographically the same way they sort numerically, which is not
// required by the spec but costs nothing and matches the "ordered KV"
// framing of the Durable Store Adapter.
const (
	keyVnodeCount = "VNODE_COUNT"
	keyAlgorithm  = "ALGORITHM"
	keyVersion    = "VERSION"
	keyComplete   = "COMPLETE"
	keyVnodeData  = "VNODE_DATA"
	vnodeKeyWidth = 10
)

func keyPnodeSet() string { return "/PNODE" }
func keyPnode(p Pnode) string { return "/PNODE/" + string(p) }
func keyPnodeVnode(p Pnode, v int) string {
	return fmt.Sprintf("/PNODE/%s/%0*d", p, vnodeKeyWidth, v)
}
func keyVnodeOwner(v int) string { return fmt.Sprintf("/VNODE/%0*d", vnodeKeyWidth, v) }

// Pnode is a physical node: an opaque, non-empty identifier (typically a
// network address). Identity is the string itself.
type Pnode string

// sentinelData is the default per-vnode datum (spec.md §3, invariant 4):
// distinguishable from any operator-supplied value because it is the
// integer literal 1, not a string.
const sentinelData = 1

// isSentinel reports whether v is the default (cleared) data value. Decoded
// JSON numbers come back as float64, while in-memory values are int or
// int64, depending on the path (in-memory vs. round-tripped through the
// store), so all of those representations of "the number one" are treated
// as the sentinel.
func isSentinel(v any) bool {
	switch n := v.(type) {
	case int:
		return n == sentinelData
	case int64:
		return n == sentinelData
	case float64:
		return n == sentinelData
	}
	return false
}

// Lookup is the result of a key lookup: the owning pnode, the vnode it
// landed on, and that vnode's data value (sentinel 1 if never set).
type Lookup struct {
	Pnode Pnode
	Vnode int
	Data  any
}

// ChangeSet is the per-pnode delta a mutation produces, covering every
// pnode whose owned-vnode set changed (spec.md §4.3).
type ChangeSet map[Pnode]*PnodeDelta

// PnodeDelta lists the vnodes a single pnode gained and lost in one
// mutation.
type PnodeDelta struct {
	Added   []int
	Removed []int
}

// Ring is the in-memory consistent hashing ring: algorithm, vnode count,
// the vnode->pnode and vnode->data maps, and the pnode set, backed by a
// store.KV handle it owns for its lifetime (spec.md §3). It is
// single-writer: many goroutines may call the read methods concurrently,
// but a mutation and a read (or two mutations) must not interleave, which
// the embedded RWMutex enforces — the same "one writer, many readers"
// contract the teacher documents on internal/cluster/ring.go's Ring type.
type Ring struct {
	mu sync.RWMutex

	algorithm Algorithm
	v         int
	version   string

	vnodeOwner []Pnode
	vnodeData  map[int]any
	pnodes     []Pnode
	pnodeSet   map[Pnode]struct{}

	kv store.KV
}

// Create builds a new ring from opts: vnode i is assigned to pnode
// opts.Pnodes[i % len(opts.Pnodes)] (the canonical even distribution,
// spec.md §4.2), writes the full creation schema to the backing store in
// the order spec.md §4.4 specifies, and marks it COMPLETE.
func Create(opts CreateOptions) (*Ring, error) {
	if err := opts.validateSelf(); err != nil {
		return nil, err
	}
	algo, err := AlgorithmByName(opts.Algorithm)
	if err != nil {
		return nil, err
	}
	kvStore, err := openBackend(opts.Backend, opts.Location)
	if err != nil {
		return nil, err
	}

	n := len(opts.Pnodes)
	r := &Ring{
		algorithm:  algo,
		v:          opts.Vnodes,
		version:    schemaVersion,
		vnodeOwner: make([]Pnode, opts.Vnodes),
		vnodeData:  make(map[int]any),
		pnodes:     make([]Pnode, 0, n),
		pnodeSet:   make(map[Pnode]struct{}, n),
		kv:         kvStore,
	}
	for i := 0; i < opts.Vnodes; i++ {
		owner := Pnode(opts.Pnodes[i%n])
		r.vnodeOwner[i] = owner
		if _, ok := r.pnodeSet[owner]; !ok {
			r.pnodeSet[owner] = struct{}{}
			r.pnodes = append(r.pnodes, owner)
		}
	}

	if err := r.writeCreationSchema(); err != nil {
		r.kv.Close()
		return nil, err
	}
	return r, nil
}

// writeCreationSchema performs the §4.4 "Creation write order": vnode count,
// then per-vnode owner keys in batches of up to 1000, then per-vnode data
// keys, then per-pnode vnode lists and the pnode set, then the trailing
// metadata keys topped off by COMPLETE. Creation is not itself atomic (the
// spec is explicit about this); COMPLETE is the durability marker that Open
// checks for.
func (r *Ring) writeCreationSchema() error {
	put := func(key string, value []byte) error {
		if err := r.kv.Put([]byte(key), value); err != nil {
			return wrapErr(StoreError, err, "put %s", key)
		}
		return nil
	}

	if err := put(keyVnodeCount, []byte(fmt.Sprintf("%d", r.v))); err != nil {
		return err
	}

	const batchSize = 1000
	batch := r.kv.NewBatch()
	pending := 0
	flush := func() error {
		if pending == 0 {
			return nil
		}
		if err := batch.Commit(); err != nil {
			return wrapErr(StoreError, err, "commit vnode owner batch")
		}
		batch = r.kv.NewBatch()
		pending = 0
		return nil
	}
	for v := 0; v < r.v; v++ {
		batch.Put([]byte(keyVnodeOwner(v)), []byte(r.vnodeOwner[v]))
		pending++
		if pending >= batchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := flush(); err != nil {
		return err
	}

	for v := 0; v < r.v; v++ {
		data, err := sonic.Marshal(r.vnodeDataOrSentinelLocked(v))
		if err != nil {
			return wrapErr(SerializationError, err, "marshal data for vnode %d", v)
		}
		if err := put(keyPnodeVnode(r.vnodeOwner[v], v), data); err != nil {
			return err
		}
	}

	for _, p := range r.pnodes {
		if err := r.putPnodeVnodeList(p); err != nil {
			return err
		}
	}
	if err := r.putPnodeSet(); err != nil {
		return err
	}

	if err := put(keyAlgorithm, []byte(r.algorithm.Name)); err != nil {
		return err
	}
	if err := put(keyVersion, []byte(r.version)); err != nil {
		return err
	}
	dataVnodes := make([]int, 0, len(r.vnodeData))
	for v := range r.vnodeData {
		dataVnodes = append(dataVnodes, v)
	}
	sort.Ints(dataVnodes)
	dataVnodesJSON, err := sonic.Marshal(dataVnodes)
	if err != nil {
		return wrapErr(SerializationError, err, "marshal data-vnode-set")
	}
	if err := put(keyVnodeData, dataVnodesJSON); err != nil {
		return err
	}
	return put(keyComplete, []byte("1"))
}

func (r *Ring) putPnodeVnodeList(p Pnode) error {
	vnodes := r.vnodesOwnedLocked(p)
	data, err := sonic.Marshal(vnodes)
	if err != nil {
		return wrapErr(SerializationError, err, "marshal vnode list for pnode %s", p)
	}
	if err := r.kv.Put([]byte(keyPnode(p)), data); err != nil {
		return wrapErr(StoreError, err, "put vnode list for pnode %s", p)
	}
	return nil
}

func (r *Ring) putPnodeSet() error {
	data, err := sonic.Marshal(r.pnodes)
	if err != nil {
		return wrapErr(SerializationError, err, "marshal pnode set")
	}
	if err := r.kv.Put([]byte(keyPnodeSet()), data); err != nil {
		return wrapErr(StoreError, err, "put pnode set")
	}
	return nil
}

// Open reconstitutes a ring previously created against the given backend
// and location, failing with RingIncomplete if the store never finished a
// creation (spec.md §4.4 "Open").
func Open(backend Backend, location string) (*Ring, error) {
	kvStore, err := openBackend(backend, location)
	if err != nil {
		return nil, err
	}
	r, err := openFrom(kvStore)
	if err != nil {
		kvStore.Close()
		return nil, err
	}
	return r, nil
}

func openFrom(kvStore store.KV) (*Ring, error) {
	get := func(key string) ([]byte, bool, error) {
		v, ok, err := kvStore.Get([]byte(key))
		if err != nil {
			return nil, false, wrapErr(StoreError, err, "get %s", key)
		}
		return v, ok, nil
	}

	complete, ok, err := get(keyComplete)
	if err != nil {
		return nil, err
	}
	if !ok || string(complete) != "1" {
		return nil, newErr(RingIncomplete, "store has no COMPLETE marker")
	}

	vcountRaw, ok, err := get(keyVnodeCount)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, newErr(RingIncomplete, "missing %s", keyVnodeCount)
	}
	var v int
	if _, err := fmt.Sscanf(string(vcountRaw), "%d", &v); err != nil {
		return nil, wrapErr(SerializationError, err, "parse %s", keyVnodeCount)
	}

	algoRaw, ok, err := get(keyAlgorithm)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, newErr(RingIncomplete, "missing %s", keyAlgorithm)
	}
	algo, err := AlgorithmByName(string(algoRaw))
	if err != nil {
		return nil, err
	}

	versionRaw, ok, err := get(keyVersion)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, newErr(RingIncomplete, "missing %s", keyVersion)
	}
	if string(versionRaw) != schemaVersion {
		return nil, newErr(RingVersionMismatch, "store version %q, expected %q", versionRaw, schemaVersion)
	}

	r := &Ring{
		algorithm:  algo,
		v:          v,
		version:    schemaVersion,
		vnodeOwner: make([]Pnode, v),
		vnodeData:  make(map[int]any),
		pnodeSet:   make(map[Pnode]struct{}),
		kv:         kvStore,
	}

	pnodeSetRaw, ok, err := get(keyPnodeSet())
	if err != nil {
		return nil, err
	}
	var pnodeNames []string
	if ok {
		if err := sonic.Unmarshal(pnodeSetRaw, &pnodeNames); err != nil {
			return nil, wrapErr(SerializationError, err, "unmarshal %s", keyPnodeSet())
		}
	}
	for _, name := range pnodeNames {
		p := Pnode(name)
		r.pnodes = append(r.pnodes, p)
		r.pnodeSet[p] = struct{}{}
	}

	for vn := 0; vn < v; vn++ {
		ownerRaw, ok, err := get(keyVnodeOwner(vn))
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, newErr(RingIncomplete, "missing owner for vnode %d", vn)
		}
		r.vnodeOwner[vn] = Pnode(ownerRaw)
	}

	dataSetRaw, ok, err := get(keyVnodeData)
	if err != nil {
		return nil, err
	}
	var dataVnodes []int
	if ok {
		if err := sonic.Unmarshal(dataSetRaw, &dataVnodes); err != nil {
			return nil, wrapErr(SerializationError, err, "unmarshal %s", keyVnodeData)
		}
	}
	for _, vn := range dataVnodes {
		owner := r.vnodeOwner[vn]
		raw, ok, err := get(keyPnodeVnode(owner, vn))
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		var val any
		if err := sonic.Unmarshal(raw, &val); err != nil {
			return nil, wrapErr(SerializationError, err, "unmarshal data for vnode %d", vn)
		}
		r.vnodeData[vn] = val
	}

	return r, nil
}

// vnodesOwnedLocked returns the ascending vnode ids owned by p. Caller must
// hold at least a read lock.
func (r *Ring) vnodesOwnedLocked(p Pnode) []int {
	var out []int
	for v, owner := range r.vnodeOwner {
		if owner == p {
			out = append(out, v)
		}
	}
	sort.Ints(out)
	return out
}

// GetNode resolves key to its owning pnode, vnode, and data value (spec.md
// §4.2). It never suspends: the ring's state is held entirely in memory
// once opened.
func (r *Ring) GetNode(key []byte) Lookup {
	r.mu.RLock()
	defer r.mu.RUnlock()
	vn := r.algorithm.vnodeOf(key, r.v)
	return Lookup{Pnode: r.vnodeOwner[vn], Vnode: vn, Data: r.vnodeDataOrSentinelLocked(vn)}
}

func (r *Ring) vnodeDataOrSentinelLocked(v int) any {
	if d, ok := r.vnodeData[v]; ok {
		return d
	}
	return sentinelData
}

// GetVnodePnodeAndData returns the owning pnode and data value for an
// explicit vnode id, erroring with VnodeOutOfRange outside [0, V).
func (r *Ring) GetVnodePnodeAndData(vnode int) (Pnode, any, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if vnode < 0 || vnode >= r.v {
		return "", nil, newErr(VnodeOutOfRange, "vnode %d not in [0, %d)", vnode, r.v)
	}
	return r.vnodeOwner[vnode], r.vnodeDataOrSentinelLocked(vnode), nil
}

// GetVnodes returns the ascending vnode ids owned by pnode (a copy, never a
// live reference — spec.md §4.2).
func (r *Ring) GetVnodes(pnode Pnode) []int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.vnodesOwnedLocked(pnode)
}

// GetPnodes enumerates the pnode set in insertion order of first appearance
// (spec.md §4.2).
func (r *Ring) GetPnodes() []Pnode {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Pnode, len(r.pnodes))
	copy(out, r.pnodes)
	return out
}

// GetDataVnodes returns the data-vnode-set in ascending order (spec.md
// §4.3.4: "unordered by contract" but ascending for reproducibility).
func (r *Ring) GetDataVnodes() []int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]int, 0, len(r.vnodeData))
	for v := range r.vnodeData {
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}

// VnodeCount returns V, fixed for the ring's lifetime.
func (r *Ring) VnodeCount() int { return r.v }

// AlgorithmName returns the persisted name of the ring's hash algorithm.
func (r *Ring) AlgorithmName() string { return r.algorithm.Name }

// Close releases the underlying store handle.
func (r *Ring) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.kv.Close(); err != nil {
		return wrapErr(StoreError, err, "close store")
	}
	return nil
}
