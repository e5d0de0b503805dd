package queue

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/medtrack/field-gateway/internal/core/domain"
)

type memEventRepo struct {
	mu     sync.Mutex
	events []domain.VisitEvent
	err    error
	block  chan struct{}
}

func (r *memEventRepo) InsertEvent(_ context.Context, e *domain.VisitEvent) error {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, *e)
	return nil
}

func TestDispatcher_PreservesPerUserOrder(t *testing.T) {
	repo := &memEventRepo{}
	d := NewDispatcher(4, repo, zerolog.Nop())
	d.Start(context.Background())

	types := []domain.VisitEventType{domain.VisitEventStarted, domain.VisitEventEnded, domain.VisitEventEdited}
	for _, uid := range []int64{7, 8, 9} {
		for _, typ := range types {
			d.Record(domain.VisitEvent{Type: typ, UserID: uid})
		}
	}
	d.Close()

	if len(repo.events) != 9 {
		t.Fatalf("expected 9 events, got %d", len(repo.events))
	}
	seen := map[int64][]domain.VisitEventType{}
	for _, e := range repo.events {
		seen[e.UserID] = append(seen[e.UserID], e.Type)
	}
	for uid, got := range seen {
		for i := range types {
			if got[i] != types[i] {
				t.Fatalf("user %d: events out of order: %v", uid, got)
			}
		}
	}
}

func TestDispatcher_SameUserSameShard(t *testing.T) {
	d := NewDispatcher(8, &memEventRepo{}, zerolog.Nop())
	if d.shardIndex(7) != d.shardIndex(7) {
		t.Fatalf("shard index must be deterministic")
	}
	for _, uid := range []int64{0, 1, 7, 1 << 40} {
		if idx := d.shardIndex(uid); idx < 0 || idx >= 8 {
			t.Fatalf("shard index %d out of range", idx)
		}
	}
}

func TestDispatcher_InsertFailureIsNonFatal(t *testing.T) {
	repo := &memEventRepo{err: errors.New("mongo down")}
	d := NewDispatcher(1, repo, zerolog.Nop())
	d.Start(context.Background())

	d.Record(domain.VisitEvent{Type: domain.VisitEventStarted, UserID: 7})
	d.Close()

	if len(repo.events) != 0 {
		t.Fatalf("expected nothing stored")
	}
}

func TestDispatcher_DropsWhenFullOrClosed(t *testing.T) {
	repo := &memEventRepo{block: make(chan struct{})}
	d := NewDispatcher(1, repo, zerolog.Nop())
	var mu sync.Mutex
	dropped := 0
	d.OnDrop(func(domain.VisitEvent) {
		mu.Lock()
		dropped++
		mu.Unlock()
	})
	d.Start(context.Background())

	// One event is held by the blocked worker, channelBuffer fill the queue.
	for i := 0; i < channelBuffer+5; i++ {
		d.Record(domain.VisitEvent{Type: domain.VisitEventStarted, UserID: 7})
	}
	close(repo.block)
	d.Close()
	d.Record(domain.VisitEvent{Type: domain.VisitEventEnded, UserID: 7})

	mu.Lock()
	defer mu.Unlock()
	if dropped < 5 || dropped > 6 {
		t.Fatalf("expected overflow and post-close drops, got %d", dropped)
	}
	if len(repo.events)+dropped != channelBuffer+6 {
		t.Fatalf("every event must be stored or dropped: stored=%d dropped=%d", len(repo.events), dropped)
	}
}
