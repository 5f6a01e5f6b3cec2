package health

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestRegistryEmpty(t *testing.T) {
	r := NewRegistry()
	healthy, statuses := r.CheckAll(context.Background())
	if !healthy {
		t.Fatal("empty registry should be healthy")
	}
	if len(statuses) != 0 {
		t.Fatalf("expected 0 statuses, got %d", len(statuses))
	}
}

func TestRegistryAllHealthy(t *testing.T) {
	r := NewRegistry()
	r.Register("db", func(_ context.Context) Status {
		return Status{Name: "db", Healthy: true}
	})
	r.Register("cache", func(_ context.Context) Status {
		return Status{Name: "cache", Healthy: true, Detail: "ok"}
	})

	healthy, statuses := r.CheckAll(context.Background())
	if !healthy {
		t.Fatal("all-healthy registry should report healthy")
	}
	if len(statuses) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(statuses))
	}
}

func TestRegistryOneUnhealthy(t *testing.T) {
	r := NewRegistry()
	r.Register("db", func(_ context.Context) Status {
		return Status{Name: "db", Healthy: true}
	})
	r.Register("cache", func(_ context.Context) Status {
		return Status{Name: "cache", Healthy: false, Detail: "connection refused"}
	})

	healthy, statuses := r.CheckAll(context.Background())
	if healthy {
		t.Fatal("registry with unhealthy checker should report unhealthy")
	}
	if len(statuses) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(statuses))
	}
	if statuses[1].Detail != "connection refused" {
		t.Fatalf("expected detail 'connection refused', got %q", statuses[1].Detail)
	}
}

func TestRegistryConcurrentRegisterAndCheck(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup

	// Register concurrently
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			r.Register("checker", func(_ context.Context) Status {
				return Status{Name: "checker", Healthy: true}
			})
		}(i)
	}

	// Check concurrently
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.CheckAll(context.Background())
		}()
	}

	wg.Wait()
}

type pingFunc func(context.Context) error

func (f pingFunc) PingContext(ctx context.Context) error { return f(ctx) }

func TestDatabaseChecker(t *testing.T) {
	ok := Database("postgres", pingFunc(func(context.Context) error { return nil }))
	if s := ok(context.Background()); !s.Healthy || s.Name != "postgres" {
		t.Fatalf("unexpected status %+v", s)
	}

	down := Database("postgres", pingFunc(func(context.Context) error { return errors.New("connection refused") }))
	s := down(context.Background())
	if s.Healthy || s.Detail != "connection refused" {
		t.Fatalf("unexpected status %+v", s)
	}
}

func TestCheckAllAppliesTimeout(t *testing.T) {
	r := NewRegistry()
	r.Register("slow", Database("", pingFunc(func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); !ok {
			return errors.New("no deadline")
		}
		return nil
	})))

	healthy, statuses := r.CheckAll(context.Background())
	if !healthy {
		t.Fatalf("expected healthy, got %+v", statuses)
	}
	if statuses[0].Name != "slow" {
		t.Fatalf("expected registered name to fill in, got %q", statuses[0].Name)
	}
}

func TestWorkerAndAcceptingCheckers(t *testing.T) {
	running := false
	w := Worker("flusher", func() bool { return running })
	if w(context.Background()).Healthy {
		t.Fatal("stopped worker should be unhealthy")
	}
	running = true
	if !w(context.Background()).Healthy {
		t.Fatal("running worker should be healthy")
	}

	a := Accepting("sessions", func() bool { return true })
	if s := a(context.Background()); s.Healthy || s.Detail != "stopped" {
		t.Fatalf("unexpected status %+v", s)
	}

	c := Count("channels", func() int { return 3 })
	if s := c(context.Background()); !s.Healthy || s.Detail != "3" {
		t.Fatalf("unexpected status %+v", s)
	}
}
