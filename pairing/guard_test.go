package pairing

import "testing"

func TestGuardEnforcesConcurrencyLimit(t *testing.T) {
	g := NewGuard()

	slots := make([]*Slot, 0, maxConcurrentAttempts)
	for i := 0; i < maxConcurrentAttempts; i++ {
		slot, ok := g.TryAcquire()
		if !ok {
			t.Fatalf("expected slot %d to be acquired", i)
		}
		slots = append(slots, slot)
	}

	if _, ok := g.TryAcquire(); ok {
		t.Fatalf("expected acquisition beyond the limit to fail")
	}

	slots[0].Release()

	if _, ok := g.TryAcquire(); !ok {
		t.Fatalf("expected a slot to be available after release")
	}

	for _, s := range slots[1:] {
		s.Release()
	}
}
