package engine

import "testing"

func TestInstancePoolPicksLeastLoadedDevice(t *testing.T) {
	p, err := NewInstancePool(2)
	if err != nil {
		t.Fatal(err)
	}
	i1, err := p.Acquire()
	if err != nil {
		t.Fatal(err)
	}
	i2, err := p.Acquire()
	if err != nil {
		t.Fatal(err)
	}
	if i1.Device() == i2.Device() {
		t.Fatalf("expected distinct devices for first two acquires, got %d and %d", i1.Device(), i2.Device())
	}

	// releasing i1 should make its device least-loaded again
	p.Release(i1)
	i3, err := p.Acquire()
	if err != nil {
		t.Fatal(err)
	}
	if i3.Device() != i1.Device() {
		t.Fatalf("expected third acquire to reuse freed device %d, got %d", i1.Device(), i3.Device())
	}
}

func TestInstancePoolDefaultsToOneDevice(t *testing.T) {
	p, err := NewInstancePool(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(p.masters) != 1 {
		t.Fatalf("len(masters) = %d, want 1", len(p.masters))
	}
}
