package featureflags

import "testing"

func TestEnabled_BooleanValues(t *testing.T) {
	m := NewManager("a=on,b=off,c=true,d=false,e=1,f=0")

	for _, name := range []string{"a", "c", "e"} {
		if !m.Enabled(name, 1) || !m.Enabled(name, 0) {
			t.Fatalf("%s should be on for members and visitors", name)
		}
	}
	for _, name := range []string{"b", "d", "f", "missing"} {
		if m.Enabled(name, 1) {
			t.Fatalf("%s should be off", name)
		}
	}
}

func TestEnabled_PercentageValues(t *testing.T) {
	m := NewManager("always=100%,never=0%,canary=25%,broken=abc%")

	if !m.Enabled("always", 1) {
		t.Fatal("100% rollout should be enabled for members")
	}
	if m.Enabled("always", 0) {
		t.Fatal("percentage rollout excludes anonymous visitors")
	}
	if m.Enabled("never", 1) || m.Enabled("broken", 1) {
		t.Fatal("0% and malformed rollouts are off")
	}

	first := m.Enabled("canary", 42)
	for i := 0; i < 5; i++ {
		if got := m.Enabled("canary", 42); got != first {
			t.Fatal("rollout evaluation must be deterministic per user")
		}
	}

	on := 0
	for id := uint(1); id <= 1000; id++ {
		if m.Enabled("canary", id) {
			on++
		}
	}
	if on < 150 || on > 350 {
		t.Fatalf("25%% rollout enabled %d of 1000 members", on)
	}
}

func TestEnabled_MembersAndAllowlist(t *testing.T) {
	m := NewManager("trading_room=members,beta=users:3|7| 9 ,empty=users:")

	if m.Enabled("trading_room", 0) || !m.Enabled("trading_room", 5) {
		t.Fatal("members flag should require a signed-in user")
	}
	if !m.Enabled("beta", 7) || !m.Enabled("BETA", 9) || m.Enabled("beta", 4) {
		t.Fatal("allowlist should match listed IDs only")
	}
	if m.Enabled("empty", 1) {
		t.Fatal("empty allowlist enables nobody")
	}
}

func TestParseAndSnapshot(t *testing.T) {
	m := NewManager(" bad ,x=on, y = 20% ,z=off,=on,w= ")

	raw := m.Raw()
	if len(raw) != 3 {
		t.Fatalf("expected 3 parsed flags, got %d", len(raw))
	}
	if raw["x"] != "on" || raw["y"] != "20%" || raw["z"] != "off" {
		t.Fatalf("unexpected raw flags: %#v", raw)
	}
	if names := m.Names(); len(names) != 3 || names[0] != "x" || names[2] != "z" {
		t.Fatalf("unexpected names: %v", names)
	}

	snap := m.Snapshot(123)
	if len(snap) != 3 || !snap["x"] || snap["z"] {
		t.Fatalf("unexpected snapshot: %#v", snap)
	}
}

func TestNilManager(t *testing.T) {
	var m *Manager
	if m.Enabled("trading_room", 1) {
		t.Fatal("nil manager enables nothing")
	}
}
