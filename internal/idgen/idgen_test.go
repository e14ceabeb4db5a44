package idgen

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type fixedMax struct {
	max int64
	err error
}

func (f fixedMax) MaxID(ctx context.Context) (int64, error) {
	return f.max, f.err
}

func TestSeed(t *testing.T) {
	seq, err := Seed(context.Background(), fixedMax{max: 41})
	if err != nil {
		t.Fatalf("Seed() error = %v", err)
	}
	if got := seq.Next(); got != 42 {
		t.Errorf("Next() = %d, want 42", got)
	}

	boom := errors.New("db down")
	if _, err := Seed(context.Background(), fixedMax{err: boom}); !errors.Is(err, boom) {
		t.Errorf("Seed() error = %v, want %v", err, boom)
	}
}

func TestSequence_ConcurrentUnique(t *testing.T) {
	const (
		workers = 16
		per     = 500
	)
	seq := NewSequence(0)

	var (
		mu   sync.Mutex
		seen = make(map[int64]bool, workers*per)
		wg   sync.WaitGroup
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids := make([]int64, 0, per)
			last := int64(0)
			for i := 0; i < per; i++ {
				id := seq.Next()
				if id <= last {
					t.Errorf("Next() = %d after %d, not increasing", id, last)
				}
				last = id
				ids = append(ids, id)
			}
			mu.Lock()
			defer mu.Unlock()
			for _, id := range ids {
				if seen[id] {
					t.Errorf("duplicate id %d", id)
				}
				seen[id] = true
			}
		}()
	}
	wg.Wait()

	if len(seen) != workers*per {
		t.Errorf("unique ids = %d, want %d", len(seen), workers*per)
	}
	if got := seq.Next(); got != workers*per+1 {
		t.Errorf("Next() = %d, want %d", got, workers*per+1)
	}
}
