package containerwork

import "testing"

func TestNewID_LengthAndAlphabet(t *testing.T) {
	id, err := NewID()
	if err != nil {
		t.Fatalf("NewID: %v", err)
	}
	if len(id) != idLength {
		t.Fatalf("expected length %d, got %d (%s)", idLength, len(id), id)
	}
	for _, c := range id {
		found := false
		for _, a := range idAlphabet {
			if c == a {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("id %s contains character %q outside the alphabet", id, c)
		}
	}
}

func TestNewID_NotConstant(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		id, err := NewID()
		if err != nil {
			t.Fatalf("NewID: %v", err)
		}
		if seen[id] {
			t.Fatalf("NewID produced a repeat within 20 calls: %s", id)
		}
		seen[id] = true
	}
}
