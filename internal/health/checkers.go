package health

import (
	"context"
	"database/sql"
	"fmt"
)

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

var _ Pinger = (*sql.DB)(nil)

// Database reports whether the checkpoint database answers a ping.
func Database(name string, db Pinger) Checker {
	return func(ctx context.Context) Status {
		if err := db.PingContext(ctx); err != nil {
			return Status{Name: name, Healthy: false, Detail: err.Error()}
		}
		return Status{Name: name, Healthy: true}
	}
}

// Worker reports whether a background loop is running.
func Worker(name string, running func() bool) Checker {
	return func(context.Context) Status {
		if !running() {
			return Status{Name: name, Healthy: false, Detail: "not running"}
		}
		return Status{Name: name, Healthy: true}
	}
}

// Accepting reports unhealthy once the node has begun shutting down and no
// longer admits connections.
func Accepting(name string, stopped func() bool) Checker {
	return func(context.Context) Status {
		if stopped() {
			return Status{Name: name, Healthy: false, Detail: "stopped"}
		}
		return Status{Name: name, Healthy: true}
	}
}

// Count reports a gauge-like value as detail; it is always healthy.
func Count(name string, n func() int) Checker {
	return func(context.Context) Status {
		return Status{Name: name, Healthy: true, Detail: fmt.Sprintf("%d", n())}
	}
}
