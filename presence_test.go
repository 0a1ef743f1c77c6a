package ramavan

import (
	"testing"
	"time"
)

func roster() []GroupMember {
	past := time.Date(2025, 6, 9, 8, 0, 0, 0, time.UTC)
	return []GroupMember{
		{ID: "u1", Username: "amir", IsOnline: true},
		{ID: "u2", Username: "bita", IsOnline: false, LastSeen: &past},
		{ID: "u3", Username: "cyrus", IsOnline: false},
	}
}

func TestPresenceTransitions(t *testing.T) {
	p := NewPresenceTracker()
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	p.Replace(roster(), -1)
	if p.OnlineCount() != 1 {
		t.Fatalf("online = %d, want 1", p.OnlineCount())
	}

	p.ApplyOnline("u2")
	p.ApplyOnline("u2") // repeat must not double count
	if p.OnlineCount() != 2 {
		t.Fatalf("online = %d, want 2", p.OnlineCount())
	}

	seen := now.Add(time.Minute)
	p.ApplyOffline("u1", &seen)
	p.ApplyOffline("u1", &seen)
	if p.OnlineCount() != 1 {
		t.Fatalf("online = %d, want 1", p.OnlineCount())
	}
	for _, e := range p.Entries() {
		if e.UserID == "u1" {
			if e.IsOnline || e.LastSeen == nil || !e.LastSeen.Equal(seen) {
				t.Fatalf("u1 entry not updated: %+v", e)
			}
		}
	}

	// Events for users outside the roster are dropped.
	p.ApplyOnline("stranger")
	if p.OnlineCount() != 1 {
		t.Fatalf("online = %d after stranger event", p.OnlineCount())
	}
}

func TestPresenceReplaceSupersedes(t *testing.T) {
	p := NewPresenceTracker()
	p.Replace(roster(), -1)
	p.ApplyOnline("u3")

	// The next authoritative fetch wins wholesale.
	p.Replace(roster(), 5)
	if p.OnlineCount() != 5 {
		t.Fatalf("online = %d, want server-reported 5", p.OnlineCount())
	}
	for _, e := range p.Entries() {
		if e.UserID == "u3" && e.IsOnline {
			t.Fatal("live-event state survived roster replace")
		}
	}
}

func TestPresenceStatusEvent(t *testing.T) {
	p := NewPresenceTracker()
	p.Replace(roster(), -1)

	p.ApplyStatus("u2", true, nil)
	if p.OnlineCount() != 2 {
		t.Fatalf("online = %d, want 2", p.OnlineCount())
	}
	p.ApplyStatus("u2", false, nil)
	if p.OnlineCount() != 1 {
		t.Fatalf("online = %d, want 1", p.OnlineCount())
	}
}

func TestTypingScopedToGroup(t *testing.T) {
	tr := NewTypingTracker()
	tr.SetGroup("g1")

	tr.Start("g1", "u2", "bita")
	tr.Start("g2", "u3", "cyrus") // other group, dropped

	names := tr.Names("self")
	if len(names) != 1 || names[0] != "bita" {
		t.Fatalf("names = %v", names)
	}

	// Switching groups clears every indicator.
	tr.SetGroup("g2")
	if len(tr.Names("self")) != 0 {
		t.Fatal("indicators survived group switch")
	}
}

func TestTypingExpiry(t *testing.T) {
	tr := NewTypingTracker()
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return now }
	tr.SetGroup("g1")

	tr.Start("g1", "u2", "bita")
	now = now.Add(3 * time.Second)
	tr.Start("g1", "u2", "bita") // refresh
	tr.Start("g1", "u3", "cyrus")

	now = now.Add(4 * time.Second)
	tr.Sweep()
	// u2 was refreshed 4s ago, u3 started 4s ago: both still live.
	if n := len(tr.Names("self")); n != 2 {
		t.Fatalf("names after 4s = %d, want 2", n)
	}

	now = now.Add(2 * time.Second)
	tr.Sweep()
	if n := len(tr.Names("self")); n != 0 {
		t.Fatalf("names after expiry = %d, want 0", n)
	}
}

func TestTypingStopAndBanner(t *testing.T) {
	tr := NewTypingTracker()
	tr.SetGroup("g1")

	if tr.Banner("self") != "" {
		t.Fatal("banner on empty tracker")
	}

	tr.Start("g1", "u2", "bita")
	if got := tr.Banner("self"); got != "bita is typing..." {
		t.Fatalf("banner = %q", got)
	}

	tr.Start("g1", "u3", "cyrus")
	if got := tr.Banner("self"); got != "bita, cyrus are typing..." {
		t.Fatalf("banner = %q", got)
	}

	// The viewer's own indicator is excluded.
	tr.Start("g1", "self", "me")
	if got := tr.Banner("self"); got != "bita, cyrus are typing..." {
		t.Fatalf("banner with self = %q", got)
	}

	tr.Stop("g1", "u2")
	tr.Stop("g2", "u3") // wrong group, ignored
	if got := tr.Banner("self"); got != "cyrus is typing..." {
		t.Fatalf("banner after stop = %q", got)
	}
}
