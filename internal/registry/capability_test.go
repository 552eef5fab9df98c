package registry

import "testing"

func TestCapabilityStore_PutGetSensitivity(t *testing.T) {
	s := NewCapabilityStore()
	c := s.Put(Capability{ServerID: "srv-1", Name: "delete_user", Sensitivity: SensitivityHigh})
	if c.ID == "" {
		t.Fatal("expected an id to be assigned")
	}
	got, ok := s.Get(c.ID)
	if !ok || got.Name != "delete_user" {
		t.Fatalf("expected to round-trip the capability, got %+v ok=%v", got, ok)
	}

	if err := s.SetSensitivity(c.ID, SensitivityCritical); err != nil {
		t.Fatalf("SetSensitivity: %v", err)
	}
	got, _ = s.Get(c.ID)
	if got.Sensitivity != SensitivityCritical {
		t.Fatalf("expected sensitivity override to stick, got %s", got.Sensitivity)
	}

	if err := s.SetSensitivity("missing", SensitivityLow); err == nil {
		t.Fatal("expected an error for an unknown id")
	}
}

func TestCapabilityStore_ByServer(t *testing.T) {
	s := NewCapabilityStore()
	s.Put(Capability{ServerID: "srv-1", Name: "b"})
	s.Put(Capability{ServerID: "srv-1", Name: "a"})
	s.Put(Capability{ServerID: "srv-2", Name: "c"})

	got := s.ByServer("srv-1")
	if len(got) != 2 || got[0].Name != "a" || got[1].Name != "b" {
		t.Fatalf("expected [a b] name-sorted, got %+v", got)
	}

	s.DeleteByServer("srv-1")
	if len(s.ByServer("srv-1")) != 0 {
		t.Fatal("expected srv-1 capabilities to be gone")
	}
	if len(s.List()) != 1 {
		t.Fatalf("expected only srv-2's capability to remain, got %d", len(s.List()))
	}
}
