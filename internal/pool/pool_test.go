package pool

import (
	"testing"

	"github.com/google/uuid"

	"github.com/oletizi/midimesh/internal/connection"
	"github.com/oletizi/midimesh/internal/discovery"
)

func newTestFacade() *connection.Facade {
	f, err := connection.New(connection.Config{
		Local:  discovery.NodeInfo{ID: uuid.New(), IP: "127.0.0.1", HTTPPort: 1, UDPPort: 1},
		Remote: discovery.NodeInfo{ID: uuid.New(), IP: "127.0.0.1", HTTPPort: 1, UDPPort: 1},
	})
	if err != nil {
		panic(err)
	}
	return f
}

func TestAddRejectsDuplicates(t *testing.T) {
	p := New()
	id := uuid.New()
	f1 := newTestFacade()
	defer f1.Close()

	if !p.Add(id, f1) {
		t.Fatalf("Add of a fresh id returned false")
	}
	f2 := newTestFacade()
	defer f2.Close()
	if p.Add(id, f2) {
		t.Fatalf("Add of a duplicate id returned true, want false")
	}
	if p.Get(id) != f1 {
		t.Fatalf("Get(id) returned the wrong facade after a rejected duplicate Add")
	}
}

func TestGetMissingReturnsNil(t *testing.T) {
	p := New()
	if p.Get(uuid.New()) != nil {
		t.Fatalf("Get of an unknown id returned non-nil")
	}
}

func TestRemoveErasesAndDisconnects(t *testing.T) {
	p := New()
	id := uuid.New()
	f := newTestFacade()
	p.Add(id, f)

	if !p.Remove(id) {
		t.Fatalf("Remove of a present id returned false")
	}
	if p.Get(id) != nil {
		t.Fatalf("entry still present after Remove")
	}
	if p.Remove(id) {
		t.Fatalf("Remove of an absent id returned true, want false")
	}
}

func TestAllAndByStateAreSnapshots(t *testing.T) {
	p := New()
	f1, f2 := newTestFacade(), newTestFacade()
	defer f1.Close()
	defer f2.Close()
	id1, id2 := uuid.New(), uuid.New()
	p.Add(id1, f1)
	p.Add(id2, f2)

	all := p.All()
	if len(all) != 2 {
		t.Fatalf("All() returned %d entries, want 2", len(all))
	}

	disconnected := p.ByState(connection.Disconnected)
	if len(disconnected) != 2 {
		t.Fatalf("ByState(Disconnected) returned %d entries, want 2 (both facades start Disconnected)", len(disconnected))
	}
	if len(p.ByState(connection.Connected)) != 0 {
		t.Fatalf("ByState(Connected) returned entries before any facade connected")
	}
}

func TestStatsCountsByState(t *testing.T) {
	p := New()
	f := newTestFacade()
	defer f.Close()
	p.Add(uuid.New(), f)

	stats := p.Stats()
	if stats.Disconnected != 1 || stats.Connected != 0 || stats.Failed != 0 {
		t.Fatalf("Stats() = %+v, want {Disconnected:1}", stats)
	}
}

func TestClearErasesEverything(t *testing.T) {
	p := New()
	p.Add(uuid.New(), newTestFacade())
	p.Add(uuid.New(), newTestFacade())

	p.Clear()
	if len(p.All()) != 0 {
		t.Fatalf("All() non-empty after Clear")
	}
}

func TestRemoveDeadKeepsDisconnectedConnections(t *testing.T) {
	p := New()
	id := uuid.New()
	f := newTestFacade()
	p.Add(id, f)

	// A freshly constructed, never-connected facade is Disconnected, not
	// Failed/dead, so RemoveDead must leave it alone.
	dead := p.RemoveDead()
	if len(dead) != 0 {
		t.Fatalf("RemoveDead() = %v, want none removed for a Disconnected facade", dead)
	}
	if p.Get(id) == nil {
		t.Fatalf("RemoveDead erased a live (Disconnected) facade")
	}
}
