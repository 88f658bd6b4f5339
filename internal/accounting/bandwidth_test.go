package accounting

import "testing"

func TestLedger_RemoveRefundsExactCharge(t *testing.T) {
	l, err := NewLedger(1000, nil)
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	if err := l.Add(FramebufferOwner, 400); err != nil {
		t.Fatalf("add fb: %v", err)
	}
	if err := l.Add(2, 350); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := l.Add(3, 300); err != nil {
		t.Fatalf("add: %v", err)
	}
	if !l.Over() {
		t.Fatalf("1050 pixels should be over a 1000 limit")
	}
	before := l.Total()
	got, ok := l.Remove(3)
	if !ok || got != 300 {
		t.Fatalf("remove: got %d %v", got, ok)
	}
	if l.Total() != before-300 {
		t.Fatalf("total after refund: %d", l.Total())
	}
	if l.Over() {
		t.Fatalf("750 pixels should be under the limit")
	}
	if _, ok := l.Remove(3); ok {
		t.Fatalf("second refund must fail")
	}
}

func TestLedger_AddTwiceFails(t *testing.T) {
	l, err := NewLedger(10, nil)
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	if err := l.Add(1, 5); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := l.Add(1, 5); err == nil {
		t.Fatalf("expected duplicate charge error")
	}
	if err := l.Add(2, -1); err == nil {
		t.Fatalf("expected negative charge error")
	}
}

func TestLedger_ResetAndOwners(t *testing.T) {
	l, err := NewLedger(10, nil)
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	_ = l.Add(4, 1)
	_ = l.Add(FramebufferOwner, 1)
	owners := l.Owners()
	if len(owners) != 2 || owners[0] != FramebufferOwner || owners[1] != 4 {
		t.Fatalf("owners: %v", owners)
	}
	l.Reset()
	if l.Total() != 0 || len(l.Owners()) != 0 || l.Charged(4) {
		t.Fatalf("reset left state behind")
	}
	if _, err := NewLedger(0, nil); err == nil {
		t.Fatalf("expected error for zero limit")
	}
}
