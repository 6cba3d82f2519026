package ring

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/bytedance/sonic"
)

// Serialize produces the canonical snapshot form (spec.md §4.5): a JSON
// object with keys in the exact order vnodes, pnodeToVnodeMap, algorithm,
// version. Key order is hand-built rather than left to struct-field
// marshaling, because invariant 5 (two independently built rings from the
// same inputs produce bitwise-identical serializations) depends on byte
// layout, not merely JSON-equivalent content.
func (r *Ring) Serialize() ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var buf bytes.Buffer
	buf.WriteByte('{')

	buf.WriteString(`"vnodes":`)
	buf.WriteString(strconv.Itoa(r.v))
	buf.WriteByte(',')

	buf.WriteString(`"pnodeToVnodeMap":`)
	if err := r.writePnodeToVnodeMapLocked(&buf); err != nil {
		return nil, err
	}
	buf.WriteByte(',')

	buf.WriteString(`"algorithm":`)
	writeAlgorithmObject(&buf, r.algorithm, r.v)
	buf.WriteByte(',')

	buf.WriteString(`"version":`)
	versionJSON, err := sonic.Marshal(r.version)
	if err != nil {
		return nil, wrapErr(SerializationError, err, "marshal version")
	}
	buf.Write(versionJSON)

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// writePnodeToVnodeMapLocked writes pnode -> {vnode-id-as-decimal-string ->
// data-value}, pnodes in insertion order (matching get_pnodes) and vnode
// keys ascending-numeric within each pnode.
func (r *Ring) writePnodeToVnodeMapLocked(buf *bytes.Buffer) error {
	buf.WriteByte('{')
	for i, p := range r.pnodes {
		if i > 0 {
			buf.WriteByte(',')
		}
		pnodeKey, err := sonic.Marshal(string(p))
		if err != nil {
			return wrapErr(SerializationError, err, "marshal pnode name %s", p)
		}
		buf.Write(pnodeKey)
		buf.WriteByte(':')

		vnodes := r.vnodesOwnedLocked(p)
		buf.WriteByte('{')
		for j, v := range vnodes {
			if j > 0 {
				buf.WriteByte(',')
			}
			fmt.Fprintf(buf, `"%d":`, v)
			dataJSON, err := sonic.Marshal(r.vnodeDataOrSentinelLocked(v))
			if err != nil {
				return wrapErr(SerializationError, err, "marshal data for vnode %d", v)
			}
			buf.Write(dataJSON)
		}
		buf.WriteByte('}')
	}
	buf.WriteByte('}')
	return nil
}

// writeAlgorithmObject writes {"NAME":..., "MAX":"<hex upper>",
// "VNODE_HASH_INTERVAL":"<hex lower>"} for the given algorithm and vnode
// count.
func writeAlgorithmObject(buf *bytes.Buffer, a Algorithm, v int) {
	buf.WriteByte('{')
	fmt.Fprintf(buf, `"NAME":%q,`, a.Name)
	fmt.Fprintf(buf, `"MAX":%q,`, fmt.Sprintf("%X", a.max()))
	fmt.Fprintf(buf, `"VNODE_HASH_INTERVAL":%q`, fmt.Sprintf("%x", a.interval(v)))
	buf.WriteByte('}')
}

// snapshotTopology mirrors the canonical JSON shape for decode purposes.
// pnodeOrder preserves the exact order pnode keys appeared in
// pnodeToVnodeMap, because Serialize always re-emits pnodeToVnodeMap keys in
// r.pnodes order (generally not alphabetical — it follows Create's i%n
// assignment) and the round-trip guarantee (spec.md §4.5) depends on
// Deserialize reconstructing that same order rather than an arbitrary one.
type snapshotTopology struct {
	Vnodes          int
	PnodeOrder      []string
	PnodeToVnodeMap map[string]map[string]any
	Algorithm       snapshotAlgorithm
	Version         string
}

type snapshotAlgorithm struct {
	Name     string `json:"NAME"`
	Max      string `json:"MAX"`
	Interval string `json:"VNODE_HASH_INTERVAL"`
}

// decodeSnapshot walks the canonical snapshot's top-level object with a
// streaming token decoder instead of unmarshaling into a Go map, because map
// iteration order is unspecified and this is the one place that order
// actually matters: pnodeToVnodeMap's key order must survive the round trip.
func decodeSnapshot(snapshot []byte) (snapshotTopology, error) {
	var topo snapshotTopology
	dec := json.NewDecoder(bytes.NewReader(snapshot))

	if err := expectDelim(dec, '{'); err != nil {
		return topo, err
	}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return topo, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return topo, fmt.Errorf("unexpected token %v where object key expected", keyTok)
		}
		switch key {
		case "vnodes":
			if err := dec.Decode(&topo.Vnodes); err != nil {
				return topo, err
			}
		case "pnodeToVnodeMap":
			order, m, err := decodeOrderedPnodeMap(dec)
			if err != nil {
				return topo, err
			}
			topo.PnodeOrder = order
			topo.PnodeToVnodeMap = m
		case "algorithm":
			if err := dec.Decode(&topo.Algorithm); err != nil {
				return topo, err
			}
		case "version":
			if err := dec.Decode(&topo.Version); err != nil {
				return topo, err
			}
		default:
			var discard any
			if err := dec.Decode(&discard); err != nil {
				return topo, err
			}
		}
	}
	if err := expectDelim(dec, '}'); err != nil {
		return topo, err
	}
	return topo, nil
}

// decodeOrderedPnodeMap decodes pnodeToVnodeMap's value object, recording
// pnode key order as encountered alongside the usual name->vnode-data map.
func decodeOrderedPnodeMap(dec *json.Decoder) ([]string, map[string]map[string]any, error) {
	if err := expectDelim(dec, '{'); err != nil {
		return nil, nil, err
	}
	order := make([]string, 0)
	m := make(map[string]map[string]any)
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, nil, err
		}
		name, ok := keyTok.(string)
		if !ok {
			return nil, nil, fmt.Errorf("unexpected token %v where pnode key expected", keyTok)
		}
		var vnodeData map[string]any
		if err := dec.Decode(&vnodeData); err != nil {
			return nil, nil, err
		}
		order = append(order, name)
		m[name] = vnodeData
	}
	if err := expectDelim(dec, '}'); err != nil {
		return nil, nil, err
	}
	return order, m, nil
}

// expectDelim consumes the next token and errors unless it is the given
// JSON delimiter.
func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		if err == io.EOF {
			return fmt.Errorf("unexpected end of snapshot, expected %q", want)
		}
		return err
	}
	d, ok := tok.(json.Delim)
	if !ok || d != want {
		return fmt.Errorf("unexpected token %v, expected %q", tok, want)
	}
	return nil
}

// Deserialize reconstructs a ring from a canonical snapshot produced by
// Serialize, writing the full vnode/pnode key set to the given backend
// (spec.md §4.5). It does not re-verify the algorithm's MAX/INTERVAL hex
// fields against the live computation — those are cross-host diagnostics,
// not a second source of truth; NAME alone selects the algorithm.
func Deserialize(snapshot []byte, opts DeserializeOptions) (*Ring, error) {
	if err := opts.validateSelf(); err != nil {
		return nil, err
	}

	topo, err := decodeSnapshot(snapshot)
	if err != nil {
		return nil, wrapErr(SerializationError, err, "unmarshal canonical snapshot")
	}
	if topo.Vnodes <= 0 {
		return nil, newErr(SerializationError, "snapshot vnodes must be positive, got %d", topo.Vnodes)
	}
	algo, err := AlgorithmByName(topo.Algorithm.Name)
	if err != nil {
		return nil, err
	}

	kvStore, err := openBackend(opts.Backend, opts.Location)
	if err != nil {
		return nil, err
	}

	r := &Ring{
		algorithm:  algo,
		v:          topo.Vnodes,
		version:    schemaVersion,
		vnodeOwner: make([]Pnode, topo.Vnodes),
		vnodeData:  make(map[int]any),
		pnodeSet:   make(map[Pnode]struct{}, len(topo.PnodeToVnodeMap)),
		kv:         kvStore,
	}

	assigned := make([]bool, topo.Vnodes)
	for _, name := range topo.PnodeOrder {
		p := Pnode(name)
		r.pnodes = append(r.pnodes, p)
		r.pnodeSet[p] = struct{}{}
		for vnodeStr, data := range topo.PnodeToVnodeMap[name] {
			vn, err := strconv.Atoi(vnodeStr)
			if err != nil {
				kvStore.Close()
				return nil, wrapErr(SerializationError, err, "parse vnode id %q", vnodeStr)
			}
			if vn < 0 || vn >= topo.Vnodes {
				kvStore.Close()
				return nil, newErr(SerializationError, "vnode id %d out of range [0, %d)", vn, topo.Vnodes)
			}
			r.vnodeOwner[vn] = p
			assigned[vn] = true
			if !isSentinel(data) {
				r.vnodeData[vn] = data
			}
		}
	}
	for vn, ok := range assigned {
		if !ok {
			kvStore.Close()
			return nil, newErr(SerializationError, "vnode %d has no owner in snapshot", vn)
		}
	}

	if err := r.writeDeserializedSchema(); err != nil {
		kvStore.Close()
		return nil, err
	}
	return r, nil
}

// writeDeserializedSchema writes the full vnode/pnode key set, unconditionally
// overwriting ALGORITHM, VERSION, and COMPLETE too — §4.5 permits skipping
// those when already present, but a fresh backend never has them, and
// overwriting with identical values when it does is harmless.
func (r *Ring) writeDeserializedSchema() error {
	return r.writeCreationSchema()
}
