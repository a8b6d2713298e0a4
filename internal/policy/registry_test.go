package policy

import "testing"

func TestLoad_BuiltinPolicies(t *testing.T) {
	for _, ref := range []string{"policy:NoOp", "policy:AllCaps"} {
		if _, err := Load(ref); err != nil {
			t.Fatalf("Load(%q): %v", ref, err)
		}
	}
}

func TestLoad_UnknownRef(t *testing.T) {
	if _, err := Load("policy:DoesNotExist"); err == nil {
		t.Fatal("expected an error for an unregistered policy ref")
	}
}

func TestRegister_CustomPolicy(t *testing.T) {
	Register("policy:Custom", func() any { return NoOp{} })
	pol, err := Load("policy:Custom")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := pol.(NoOp); !ok {
		t.Fatalf("expected NoOp, got %T", pol)
	}
}
