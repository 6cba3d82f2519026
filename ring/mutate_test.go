package ring

import "testing"

func ringS1(t *testing.T) *Ring {
	return mustCreate(t, CreateOptions{
		Algorithm: "sha256",
		Pnodes:    []string{"P1", "P2"},
		Vnodes:    6,
		Backend:   BackendMemory,
	})
}

// TestRemapAndAddDataS4 reproduces scenario S4.
func TestRemapAndAddDataS4(t *testing.T) {
	r := ringS1(t)

	if err := r.AddData(4, "ro"); err != nil {
		t.Fatalf("AddData: %v", err)
	}
	if _, err := r.Remap("P3", []int{4}); err != nil {
		t.Fatalf("Remap: %v", err)
	}

	pnode, data, err := r.GetVnodePnodeAndData(4)
	if err != nil {
		t.Fatalf("GetVnodePnodeAndData: %v", err)
	}
	if pnode != "P3" || data != "ro" {
		t.Fatalf("GetVnodePnodeAndData(4) = {%s, %v}, want {P3, ro}", pnode, data)
	}

	found := false
	for _, p := range r.GetPnodes() {
		if p == "P3" {
			found = true
		}
	}
	if !found {
		t.Fatalf("GetPnodes() = %v, want to contain P3", r.GetPnodes())
	}

	if got, want := r.GetVnodes("P1"), []int{0, 2}; !intsEqual(got, want) {
		t.Fatalf("GetVnodes(P1) = %v, want %v", got, want)
	}
}

// TestRemoveGuardS5 reproduces scenario S5.
func TestRemoveGuardS5(t *testing.T) {
	r := ringS1(t)
	if err := r.AddData(4, "ro"); err != nil {
		t.Fatalf("AddData: %v", err)
	}
	if _, err := r.Remap("P3", []int{4}); err != nil {
		t.Fatalf("Remap: %v", err)
	}

	if err := r.RemovePnode("P1"); !errIsKind(err, PnodeStillInUse) {
		t.Fatalf("RemovePnode(P1) with vnodes still owned = %v, want PnodeStillInUse", err)
	}

	if _, err := r.Remap("P2", []int{0, 2}); err != nil {
		t.Fatalf("Remap: %v", err)
	}
	if err := r.RemovePnode("P1"); err != nil {
		t.Fatalf("RemovePnode(P1): %v", err)
	}
	for _, p := range r.GetPnodes() {
		if p == "P1" {
			t.Fatalf("GetPnodes() still contains P1 after removal: %v", r.GetPnodes())
		}
	}
}

func TestRemovePnodeUnknown(t *testing.T) {
	r := ringS1(t)
	if err := r.RemovePnode("ghost"); !errIsKind(err, PnodeUnknown) {
		t.Fatalf("RemovePnode(ghost) = %v, want PnodeUnknown", err)
	}
}

func TestRemapRejectsSamePnodeAndOutOfRange(t *testing.T) {
	r := ringS1(t)
	if _, err := r.Remap("P1", []int{0}); !errIsKind(err, VnodeAlreadyOnTarget) {
		t.Fatalf("Remap onto current owner = %v, want VnodeAlreadyOnTarget", err)
	}
	if _, err := r.Remap("P3", []int{6}); !errIsKind(err, VnodeOutOfRange) {
		t.Fatalf("Remap out-of-range vnode = %v, want VnodeOutOfRange", err)
	}
	if _, err := r.Remap("P3", nil); err == nil {
		t.Fatalf("Remap with no vnodes succeeded, want error")
	}
}

func TestRemapChangeSetCoversAllAffectedPnodes(t *testing.T) {
	r := ringS1(t)
	cs, err := r.Remap("P1", []int{1, 3})
	if err != nil {
		t.Fatalf("Remap: %v", err)
	}
	if got, want := cs["P1"].Added, []int{1, 3}; !intsEqual(got, want) {
		t.Errorf("cs[P1].Added = %v, want %v", got, want)
	}
	if got, want := cs["P2"].Removed, []int{1, 3}; !intsEqual(got, want) {
		t.Errorf("cs[P2].Removed = %v, want %v", got, want)
	}
	if len(cs["P1"].Removed) != 0 || len(cs["P2"].Added) != 0 {
		t.Errorf("unexpected non-empty opposite field: %+v", cs)
	}
}

func TestAddDataNilRestoresSentinelAndClearsDataVnodeSet(t *testing.T) {
	r := ringS1(t)
	if err := r.AddData(2, "x"); err != nil {
		t.Fatalf("AddData: %v", err)
	}
	if got, want := r.GetDataVnodes(), []int{2}; !intsEqual(got, want) {
		t.Fatalf("GetDataVnodes() = %v, want %v", got, want)
	}
	if err := r.AddData(2, nil); err != nil {
		t.Fatalf("AddData(nil): %v", err)
	}
	if got := r.GetDataVnodes(); len(got) != 0 {
		t.Fatalf("GetDataVnodes() after clear = %v, want empty", got)
	}
	_, data, err := r.GetVnodePnodeAndData(2)
	if err != nil {
		t.Fatalf("GetVnodePnodeAndData: %v", err)
	}
	if !isSentinel(data) {
		t.Fatalf("data after clear = %v, want sentinel", data)
	}
}

func TestAddDataOutOfRange(t *testing.T) {
	r := ringS1(t)
	if err := r.AddData(99, "x"); !errIsKind(err, VnodeOutOfRange) {
		t.Fatalf("AddData(99, ...) = %v, want VnodeOutOfRange", err)
	}
}
