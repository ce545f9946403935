package jobstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"mediavault/internal/models"
)

var ErrNotFound = errors.New("job not found")

// Filter narrows List. Nil fields match everything.
type Filter struct {
	Status *models.JobStatus
	Type   *string
}

func (f Filter) matches(job models.Job) bool {
	if f.Status != nil && job.Status != *f.Status {
		return false
	}
	if f.Type != nil && job.Type != *f.Type {
		return false
	}
	return true
}

// Store persists job records. Set is an upsert keyed by job id; List returns
// newest first.
type Store interface {
	Get(ctx context.Context, id string) (models.Job, error)
	Set(ctx context.Context, job models.Job) error
	Delete(ctx context.Context, id string) error
	Exists(ctx context.Context, id string) (bool, error)
	List(ctx context.Context, f Filter) ([]models.Job, error)
}

type Config struct {
	Backend       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// New selects a backend by name. The zero value picks the in-process store.
func New(cfg Config) (Store, error) {
	switch strings.TrimSpace(strings.ToLower(cfg.Backend)) {
	case "", "memory":
		return NewMemory(), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		return NewRedis(client), nil
	default:
		return nil, fmt.Errorf("unsupported job store backend %q (expected memory or redis)", cfg.Backend)
	}
}
