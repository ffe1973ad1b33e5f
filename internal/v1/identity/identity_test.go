package identity

import "testing"

func TestGenerate_Deterministic(t *testing.T) {
	a := Generate("ABCDEF")
	b := Generate("ABCDEF")
	if a != b {
		t.Fatalf("Generate is not deterministic: %+v vs %+v", a, b)
	}
}

func TestGenerate_DistinctCodesDiffer(t *testing.T) {
	a := Generate("ABCDEF")
	b := Generate("ZZZZZZ")
	if a == b {
		t.Fatalf("expected distinct identities for distinct codes, got identical %+v", a)
	}
}

func TestGenerate_RotationInRange(t *testing.T) {
	codes := []string{"AAAAAA", "234567", "QWERTY", "HJKLMN", "PQRSTU"}
	for _, c := range codes {
		id := Generate(c)
		if id.BaseRotation < -0.7 || id.BaseRotation > 0.7 {
			t.Fatalf("rotation out of range for %s: %v", c, id.BaseRotation)
		}
		if id.Color == "" || id.Pattern == "" || id.HypeName == "" {
			t.Fatalf("incomplete identity for %s: %+v", c, id)
		}
	}
}
