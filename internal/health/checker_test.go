package health

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/a1betting/propcore/internal/infra/sqlite"
)

type offlineLLM struct{}

func (offlineLLM) Reachable(ctx context.Context) bool { return false }

func TestChecker_AllProbesPassOnHealthyStack(t *testing.T) {
	dir := t.TempDir()
	db, err := sqlite.Open(filepath.Join(dir, "props.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	c := NewChecker(db, dir, offlineLLM{})
	c.runAll(context.Background())

	statuses := c.Statuses()
	if len(statuses) != 3 {
		t.Fatalf("statuses = %d, want 3", len(statuses))
	}
	for _, s := range statuses {
		if !s.Healthy {
			t.Errorf("%s unhealthy: %s", s.Name, s.Error)
		}
		if s.CheckedAt.IsZero() {
			t.Errorf("%s missing timestamp", s.Name)
		}
	}
	if !c.IsHealthy() {
		t.Error("IsHealthy() = false")
	}
}

func TestChecker_ClosedStoreIsUnhealthy(t *testing.T) {
	dir := t.TempDir()
	db, err := sqlite.Open(filepath.Join(dir, "props.db"))
	if err != nil {
		t.Fatal(err)
	}
	db.Close()

	c := NewChecker(db, dir, offlineLLM{})
	c.runAll(context.Background())

	var sqliteStatus *Status
	for i := range c.Statuses() {
		s := c.Statuses()[i]
		if s.Name == "sqlite" {
			sqliteStatus = &s
		}
	}
	if sqliteStatus == nil || sqliteStatus.Healthy {
		t.Error("sqlite check should fail on a closed store")
	}
	if c.IsHealthy() {
		t.Error("IsHealthy() = true with a failing check")
	}
}
