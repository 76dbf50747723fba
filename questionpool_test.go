package blankquiz

import (
	"sync"
	"testing"
)

func TestQuestionPoolFIFO(t *testing.T) {
	pool := NewQuestionPool()
	if !pool.IsEmpty() || pool.Get() != nil {
		t.Fatal("new pool should be empty")
	}

	for _, id := range []string{"a", "b", "c"} {
		pool.Add(&Question{ID: id})
	}
	if pool.Size() != 3 {
		t.Fatalf("Size = %d, want 3", pool.Size())
	}

	first := pool.Get()
	if first.ID != "a" {
		t.Errorf("Get = %q, want a", first.ID)
	}
	if first.Status != StatusPending || first.CreatedAt.IsZero() {
		t.Errorf("Add should default status and timestamp, got %q %v", first.Status, first.CreatedAt)
	}

	pool.Remove("b")
	pool.Remove("missing")
	all := pool.GetAll()
	if len(all) != 1 || all[0].ID != "c" {
		t.Errorf("GetAll = %v", all)
	}
}

func TestQuestionPoolReAddReplaces(t *testing.T) {
	pool := NewQuestionPool()
	pool.Add(&Question{ID: "a", Text: "old"})
	pool.Add(&Question{ID: "b"})
	pool.Add(&Question{ID: "a", Text: "new", Status: StatusRevised})

	if all := pool.GetAll(); len(all) != 2 || all[0].Text != "new" || all[1].ID != "b" {
		t.Fatalf("GetAll = %+v", all)
	}
	if pool.Size() != 2 {
		t.Fatalf("Size = %d, want 2", pool.Size())
	}
	q := pool.Get()
	if q.ID != "a" || q.Text != "new" || q.Status != StatusRevised {
		t.Errorf("Get = %+v, want replaced question a", q)
	}
}

func TestQuestionPoolConcurrentAdd(t *testing.T) {
	pool := NewQuestionPool()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			pool.Add(&Question{ID: FormatBlankTag(i)})
		}(i)
	}
	wg.Wait()
	if pool.Size() != 50 {
		t.Errorf("Size = %d, want 50", pool.Size())
	}
}
