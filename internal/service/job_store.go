package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/i2vstudio/api/internal/model"
)

// JobTTL is how long job records survive after their last update
const JobTTL = 24 * time.Hour

// JobStore persists short-lived job records
type JobStore interface {
	Save(ctx context.Context, job *model.Job) error
	Get(ctx context.Context, jobID string) (*model.Job, error)
}

// RedisJobStore keeps job records as JSON under video:job:<id>
type RedisJobStore struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewRedisJobStore(redisClient *redis.Client) *RedisJobStore {
	return &RedisJobStore{
		redis: redisClient,
		ttl:   JobTTL,
	}
}

func jobKey(jobID string) string {
	return fmt.Sprintf("video:job:%s", jobID)
}

func (s *RedisJobStore) Save(ctx context.Context, job *model.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, jobKey(job.ID), data, s.ttl).Err()
}

func (s *RedisJobStore) Get(ctx context.Context, jobID string) (*model.Job, error) {
	data, err := s.redis.Get(ctx, jobKey(jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}

	var job model.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, err
	}

	return &job, nil
}
