package ramavan

import (
	"testing"
	"time"
)

func TestUnreadActivePinnedAtZero(t *testing.T) {
	u := NewUnreadCounters()
	u.SetActive("g1")

	u.Increment("g1")
	u.Increment("g2")
	u.Increment("g2")

	if n := u.Count("g1"); n != 0 {
		t.Fatalf("active count = %d, want 0", n)
	}
	if n := u.Count("g2"); n != 2 {
		t.Fatalf("g2 count = %d, want 2", n)
	}
}

func TestUnreadSwitchClearsNewActive(t *testing.T) {
	u := NewUnreadCounters()
	u.SetActive("g1")
	u.Increment("g2")
	u.Increment("g2")
	u.Increment("g3")

	u.SetActive("g2")
	if n := u.Count("g2"); n != 0 {
		t.Fatalf("g2 count after select = %d, want 0", n)
	}
	// Leaving g1 active-less does not invent counts for it.
	if n := u.Count("g1"); n != 0 {
		t.Fatalf("g1 count = %d, want 0", n)
	}
	if total := u.Total(); total != 1 {
		t.Fatalf("total = %d, want 1", total)
	}
}

func TestUnreadTotalAndCopy(t *testing.T) {
	u := NewUnreadCounters()
	u.Increment("g1")
	u.Increment("g2")
	u.Increment("g2")

	counts := u.Counts()
	counts["g1"] = 99
	if u.Count("g1") != 1 {
		t.Fatal("Counts returned live map")
	}
	if u.Total() != 3 {
		t.Fatalf("total = %d, want 3", u.Total())
	}

	u.ClearGroup("g2")
	if u.Total() != 1 {
		t.Fatalf("total after clear = %d, want 1", u.Total())
	}
}

func feedItems(ids ...string) []Notification {
	at := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	out := make([]Notification, 0, len(ids))
	for _, id := range ids {
		out = append(out, Notification{ID: id, Type: "message", CreatedAt: at})
	}
	return out
}

func TestFeedReconciliation(t *testing.T) {
	f := NewNotificationFeed()
	if f.Count() != 0 {
		t.Fatalf("fresh count = %d", f.Count())
	}

	// Server reload replaces whatever was there.
	f.Reload(feedItems("n1", "n2", "n3"), 3)
	if f.Count() != 3 {
		t.Fatalf("count = %d, want 3", f.Count())
	}

	// A realtime push lands on top.
	f.Push(Notification{ID: "n4", Type: "message"})
	if f.Count() != 4 {
		t.Fatalf("count = %d, want 4", f.Count())
	}
	if items := f.Items(); items[0].ID != "n4" {
		t.Fatalf("newest first violated: %s", items[0].ID)
	}

	// The next reload wins over locally accumulated pushes.
	f.Reload(feedItems("n1", "n2", "n3"), 3)
	if f.Count() != 3 {
		t.Fatalf("count after reload = %d, want 3", f.Count())
	}
}

func TestFeedRemove(t *testing.T) {
	f := NewNotificationFeed()
	f.Reload(feedItems("n1", "n2"), 2)

	f.Remove("n1")
	if f.Count() != 1 || len(f.Items()) != 1 {
		t.Fatalf("count = %d, items = %d", f.Count(), len(f.Items()))
	}

	// Removing an id the reload already dropped leaves the badge in step
	// with the list.
	f.Remove("ghost")
	if f.Count() != 1 || len(f.Items()) != 1 {
		t.Fatalf("ghost remove desynced feed: count=%d items=%d", f.Count(), len(f.Items()))
	}

	f.Remove("n2")
	f.Remove("n2")
	if f.Count() != 0 {
		t.Fatalf("count = %d, want 0", f.Count())
	}
}

func TestFeedClear(t *testing.T) {
	f := NewNotificationFeed()
	f.Reload(feedItems("n1", "n2"), 2)
	f.Push(Notification{ID: "n3"})

	f.Clear()
	if f.Count() != 0 || len(f.Items()) != 0 {
		t.Fatalf("feed not empty: count=%d items=%d", f.Count(), len(f.Items()))
	}
}

func TestFeedItemsCopy(t *testing.T) {
	f := NewNotificationFeed()
	f.Reload(feedItems("n1"), 1)

	items := f.Items()
	items[0].ID = "mutated"
	if f.Items()[0].ID != "n1" {
		t.Fatal("Items returned live slice")
	}
}
