package domain

import (
	"testing"
	"time"
)

func TestNewLocationSnapshotIndices(t *testing.T) {
	snap := NewLocationSnapshot(
		[]FloorInfo{{FloorID: "Ground", Name: "Ground Floor"}},
		[]AreaInfo{{AreaID: "Kitchen", Name: "Kitchen", FloorID: "Ground"}},
		[]EntityLocationInfo{{EntityID: "light.Kitchen_1", FriendlyName: "Kitchen Lights", AreaID: "Kitchen"}},
		map[string][]float32{"kitchen": {1, 0}},
		time.Now(),
	)

	if _, ok := snap.Floor("ground"); !ok {
		t.Fatal("floor index should be case-insensitive")
	}
	if _, ok := snap.Area("KITCHEN"); !ok {
		t.Fatal("area index should be case-insensitive")
	}
	if _, ok := snap.Entity("LIGHT.KITCHEN_1"); !ok {
		t.Fatal("entity index should be case-insensitive")
	}
	if _, ok := snap.Embedding("Kitchen"); !ok {
		t.Fatal("embedding lookup should be case-insensitive")
	}
	if _, ok := snap.Area("garage"); ok {
		t.Fatal("unknown area must not resolve")
	}
}

func TestEmptySnapshotSentinel(t *testing.T) {
	if EmptySnapshot == nil {
		t.Fatal("EmptySnapshot must exist")
	}
	if len(EmptySnapshot.Floors) != 0 || len(EmptySnapshot.Areas) != 0 || len(EmptySnapshot.Entities) != 0 {
		t.Fatal("EmptySnapshot must be empty")
	}
	if _, ok := EmptySnapshot.Entity("light.kitchen_1"); ok {
		t.Fatal("EmptySnapshot must resolve nothing")
	}
}

func TestEntityDomain(t *testing.T) {
	cases := map[string]string{
		"light.kitchen_ceiling": "light",
		"switch.kettle":         "switch",
		"noprefix":              "noprefix",
	}
	for id, want := range cases {
		e := EntityLocationInfo{EntityID: id}
		if got := e.Domain(); got != want {
			t.Fatalf("Domain(%q) = %q, want %q", id, got, want)
		}
	}
}
