package bucket

import "testing"

func TestPolicyFragment(t *testing.T) {
	t.Parallel()

	p := Policy{Name: "global", Capacity: 100, RefillRate: 10}
	if got, want := PolicyFragment(p), `"global";q=100;w=10`; got != want {
		t.Errorf("PolicyFragment() = %q, want %q", got, want)
	}

	// Fractional windows round up.
	p = Policy{Name: "burst", Capacity: 10, RefillRate: 3}
	if got, want := PolicyFragment(p), `"burst";q=10;w=4`; got != want {
		t.Errorf("PolicyFragment() = %q, want %q", got, want)
	}
}

func TestStateFragment(t *testing.T) {
	t.Parallel()

	p := Policy{Name: "global", Capacity: 50, RefillRate: 10}

	// tokens >= 1: t=0.
	d := Decision{Allowed: true, Tokens: 10, ResetAfter: 0}
	if got, want := StateFragment(p, d), `"global";r=10;t=0`; got != want {
		t.Errorf("StateFragment() = %q, want %q", got, want)
	}

	// Fractional remaining floors, fractional reset ceils.
	d = Decision{Allowed: false, Tokens: 0.7, ResetAfter: 0.03}
	if got, want := StateFragment(p, d), `"global";r=0;t=1`; got != want {
		t.Errorf("StateFragment() = %q, want %q", got, want)
	}
}

func TestJoinFragments(t *testing.T) {
	t.Parallel()

	got := JoinFragments([]string{`"a";q=1;w=1`, `"b";q=2;w=1`})
	if want := `"a";q=1;w=1, "b";q=2;w=1`; got != want {
		t.Errorf("JoinFragments() = %q, want %q", got, want)
	}
	if got := JoinFragments([]string{`"a";q=1;w=1`}); got != `"a";q=1;w=1` {
		t.Errorf("single fragment altered: %q", got)
	}
}
