package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/classletter/newsletter-engine/internal/domain"
)

func createRun(t *testing.T, db *sql.DB, run domain.WorkflowRun) {
	t.Helper()
	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("begin tx: %v", err)
	}
	if err := (&RunRepo{}).CreateTx(context.Background(), tx, run); err != nil {
		tx.Rollback()
		t.Fatalf("CreateTx: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func TestRunRepo_CreateAndGet(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := &RunRepo{}

	createRun(t, db, domain.WorkflowRun{
		ID:            "run-001",
		Phase:         domain.PhasePlanning,
		StateVersion:  1,
		Transcript:    "今日は運動会の練習をしました",
		Config:        []byte(`{"grade":"3"}`),
		UserID:        "teacher-1",
		SessionID:     "sess-1",
		CreatedAtUnix: 100,
		UpdatedAtUnix: 100,
	})

	got, err := repo.GetByID(ctx, db, "run-001")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.ID != "run-001" {
		t.Errorf("ID = %q, want %q", got.ID, "run-001")
	}
	if got.Phase != domain.PhasePlanning {
		t.Errorf("Phase = %q, want %q", got.Phase, domain.PhasePlanning)
	}
	if got.StateVersion != 1 {
		t.Errorf("StateVersion = %d, want 1", got.StateVersion)
	}
	if string(got.Config) != `{"grade":"3"}` {
		t.Errorf("Config = %s", got.Config)
	}
	if got.UserID != "teacher-1" || got.SessionID != "sess-1" {
		t.Errorf("UserID/SessionID = %q/%q", got.UserID, got.SessionID)
	}
	if got.Degraded {
		t.Error("Degraded = true, want false")
	}
}

func TestRunRepo_GetNotFound(t *testing.T) {
	db := newTestDB(t)

	_, err := (&RunRepo{}).GetByID(context.Background(), db, "missing")
	if !errors.Is(err, domain.ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got %v", err)
	}
}

func TestRunRepo_DuplicateID(t *testing.T) {
	db := newTestDB(t)
	run := domain.WorkflowRun{ID: "dup", Phase: domain.PhasePlanning, StateVersion: 1}
	createRun(t, db, run)

	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	if err := (&RunRepo{}).CreateTx(context.Background(), tx, run); err == nil {
		t.Error("expected error on duplicate run id, got nil")
	}
}

func TestRunRepo_UpdateOptimisticLock(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := &RunRepo{}

	createRun(t, db, domain.WorkflowRun{ID: "run-lock", Phase: domain.PhasePlanning, StateVersion: 1})

	// First update with correct version succeeds.
	tx, _ := db.Begin()
	err := repo.UpdateStateTx(ctx, tx, domain.WorkflowRun{
		ID: "run-lock", Phase: domain.PhaseGeneration, StateVersion: 1,
		Degraded: true, LastEventSeq: 3, UpdatedAtUnix: 200,
	})
	if err != nil {
		tx.Rollback()
		t.Fatalf("first update: %v", err)
	}
	tx.Commit()

	got, err := repo.GetByID(ctx, db, "run-lock")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.StateVersion != 2 {
		t.Errorf("StateVersion = %d, want 2", got.StateVersion)
	}
	if got.Phase != domain.PhaseGeneration || !got.Degraded || got.LastEventSeq != 3 {
		t.Errorf("run = %+v", got)
	}

	// Stale version is rejected.
	tx2, _ := db.Begin()
	err = repo.UpdateStateTx(ctx, tx2, domain.WorkflowRun{ID: "run-lock", Phase: domain.PhaseFailed, StateVersion: 1})
	tx2.Rollback()
	if !errors.Is(err, domain.ErrOptimisticLock) {
		t.Errorf("expected ErrOptimisticLock, got %v", err)
	}
}

func TestRunRepo_ListRecent(t *testing.T) {
	db := newTestDB(t)
	createRun(t, db, domain.WorkflowRun{ID: "old", Phase: domain.PhaseComplete, StateVersion: 1, UpdatedAtUnix: 10})
	createRun(t, db, domain.WorkflowRun{ID: "new", Phase: domain.PhasePlanning, StateVersion: 1, UpdatedAtUnix: 20})

	runs, err := (&RunRepo{}).ListRecent(context.Background(), db, 10)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("len = %d, want 2", len(runs))
	}
	if runs[0].ID != "new" {
		t.Errorf("runs[0] = %q, want new", runs[0].ID)
	}
}
