package database

import (
	"context"
	"errors"
	"testing"

	"github.com/relayline/relayline/internal/database/models"
)

func TestTranscriptJobUniquePerRecording(t *testing.T) {
	repo := NewTranscriptJobRepository(testDB(t))
	ctx := context.Background()

	job := &models.TranscriptJob{
		ID:          "GT00000000000000000000000000000001",
		CallID:      "CA00000000000000000000000000000001",
		RecordingID: "RE00000000000000000000000000000001",
		Status:      "queued",
	}
	if err := repo.Create(ctx, job); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	// A second job for the same recording must be rejected by the store.
	dup := &models.TranscriptJob{
		ID:          "GT00000000000000000000000000000002",
		CallID:      job.CallID,
		RecordingID: job.RecordingID,
		Status:      "queued",
	}
	if err := repo.Create(ctx, dup); err == nil {
		t.Fatal("Create() should reject a second job for the same recording")
	}

	got, err := repo.GetByRecordingID(ctx, job.RecordingID)
	if err != nil {
		t.Fatalf("GetByRecordingID() error: %v", err)
	}
	if got.ID != job.ID {
		t.Errorf("ID = %q, want %q", got.ID, job.ID)
	}
}

func TestTranscriptJobStatusLifecycle(t *testing.T) {
	repo := NewTranscriptJobRepository(testDB(t))
	ctx := context.Background()

	job := &models.TranscriptJob{
		ID:          "GT00000000000000000000000000000003",
		CallID:      "CA00000000000000000000000000000003",
		RecordingID: "RE00000000000000000000000000000003",
		Status:      "queued",
	}
	if err := repo.Create(ctx, job); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	for _, status := range []string{"in-progress", "completed"} {
		if err := repo.UpdateStatus(ctx, job.ID, status); err != nil {
			t.Fatalf("UpdateStatus(%q) error: %v", status, err)
		}
	}

	got, err := repo.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID() error: %v", err)
	}
	if got.Status != "completed" {
		t.Errorf("Status = %q, want completed", got.Status)
	}

	if err := repo.Delete(ctx, job.ID); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if _, err := repo.GetByID(ctx, job.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByID() after delete = %v, want ErrNotFound", err)
	}
}
