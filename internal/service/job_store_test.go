package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/i2vstudio/api/internal/model"
)

func TestRedisJobStore_SaveAndGet(t *testing.T) {
	mr, rdb := newRedis(t)
	store := NewRedisJobStore(rdb)
	ctx := context.Background()

	job := &model.Job{
		ID:        "job-1",
		Status:    model.JobStatusRunning,
		Progress:  40,
		Prompt:    "a cat walking",
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
	if err := store.Save(ctx, job); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := store.Get(ctx, "job-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != model.JobStatusRunning || got.Progress != 40 || got.Prompt != "a cat walking" {
		t.Errorf("unexpected job %+v", got)
	}
	if !got.CreatedAt.Equal(job.CreatedAt) {
		t.Errorf("expected createdAt %s, got %s", job.CreatedAt, got.CreatedAt)
	}

	if ttl := mr.TTL("video:job:job-1"); ttl != JobTTL {
		t.Errorf("expected ttl %s, got %s", JobTTL, ttl)
	}
}

func TestRedisJobStore_NotFound(t *testing.T) {
	_, rdb := newRedis(t)
	store := NewRedisJobStore(rdb)

	_, err := store.Get(context.Background(), "missing")
	if !errors.Is(err, ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}
