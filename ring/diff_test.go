package ring

import "testing"

// TestDiffS6 reproduces scenario S6.
func TestDiffS6(t *testing.T) {
	opts := CreateOptions{
		Algorithm: "sha256",
		Pnodes:    []string{"P1", "P2"},
		Vnodes:    6,
		Backend:   BackendMemory,
	}
	a := mustCreate(t, opts)
	b := mustCreate(t, opts)
	if _, err := b.Remap("P1", []int{1}); err != nil {
		t.Fatalf("Remap: %v", err)
	}

	d := Diff(a, b)
	if len(d) != 2 {
		t.Fatalf("Diff produced %d entries, want 2: %+v", len(d), d)
	}
	if got := d["P1"]; got == nil || !intsEqual(got.Added, []int{1}) || len(got.Removed) != 0 {
		t.Errorf("d[P1] = %+v, want {Added: [1], Removed: []}", got)
	}
	if got := d["P2"]; got == nil || !intsEqual(got.Removed, []int{1}) || len(got.Added) != 0 {
		t.Errorf("d[P2] = %+v, want {Added: [], Removed: [1]}", got)
	}
}

func TestDiffOmitsUnchangedPnodes(t *testing.T) {
	opts := CreateOptions{
		Algorithm: "sha256",
		Pnodes:    []string{"P1", "P2", "P3"},
		Vnodes:    9,
		Backend:   BackendMemory,
	}
	a := mustCreate(t, opts)
	b := mustCreate(t, opts)
	if _, err := b.Remap("P1", []int{2}); err != nil {
		t.Fatalf("Remap: %v", err)
	}
	d := Diff(a, b)
	if _, ok := d["P3"]; ok {
		t.Fatalf("Diff included unaffected pnode P3: %+v", d)
	}
}

// TestDiffSoundness is testable property 6: applying diff(A, B) as a script
// of remaps to A reproduces B's vnode->pnode map.
func TestDiffSoundness(t *testing.T) {
	opts := CreateOptions{
		Algorithm: "sha256",
		Pnodes:    []string{"P1", "P2", "P3"},
		Vnodes:    12,
		Backend:   BackendMemory,
	}
	a := mustCreate(t, opts)
	b := mustCreate(t, opts)
	if _, err := b.Remap("P2", []int{0, 3}); err != nil {
		t.Fatalf("Remap: %v", err)
	}
	if _, err := b.Remap("P1", []int{7}); err != nil {
		t.Fatalf("Remap: %v", err)
	}

	d := Diff(a, b)
	for pnode, delta := range d {
		if len(delta.Added) > 0 {
			if _, err := a.Remap(pnode, delta.Added); err != nil {
				t.Fatalf("applying diff: Remap(%s, %v): %v", pnode, delta.Added, err)
			}
		}
	}

	for v := 0; v < a.VnodeCount(); v++ {
		pa, _, err := a.GetVnodePnodeAndData(v)
		if err != nil {
			t.Fatalf("GetVnodePnodeAndData(a, %d): %v", v, err)
		}
		pb, _, err := b.GetVnodePnodeAndData(v)
		if err != nil {
			t.Fatalf("GetVnodePnodeAndData(b, %d): %v", v, err)
		}
		if pa != pb {
			t.Errorf("vnode %d: a owner = %s, b owner = %s after applying diff", v, pa, pb)
		}
	}
}
