package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/nanoimage/api-go/internal/model"
)

const lockStripes = 64

// JSONFS keeps one JSON document per job under Dir. It is the system of record:
// nothing is cached between calls.
//
// Each job has a single writer (its executor) after creation. Updates to the
// same id are still serialised and written with a rename so concurrent
// readers never see a partial document.
type JSONFS struct {
	dir   string
	locks [lockStripes]sync.Mutex
}

func OpenJSONFS(dir string) (*JSONFS, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &JSONFS{dir: dir}, nil
}

func (s *JSONFS) CreateJob(ctx context.Context, job model.Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := uuid.Parse(job.ID); err != nil {
		return fmt.Errorf("invalid job id %q: %w", job.ID, err)
	}
	if job.Params == nil {
		job.Params = map[string]any{}
	}
	if job.Results == nil {
		job.Results = []string{}
	}
	mu := s.lock(job.ID)
	mu.Lock()
	defer mu.Unlock()
	return s.write(job)
}

func (s *JSONFS) GetJob(ctx context.Context, id string) (model.Job, error) {
	if err := ctx.Err(); err != nil {
		return model.Job{}, err
	}
	return s.read(id)
}

// UpdateJob reads the current record, applies patch and writes it back.
func (s *JSONFS) UpdateJob(ctx context.Context, id string, patch model.JobPatch) (model.Job, error) {
	if err := ctx.Err(); err != nil {
		return model.Job{}, err
	}
	mu := s.lock(id)
	mu.Lock()
	defer mu.Unlock()

	job, err := s.read(id)
	if err != nil {
		return model.Job{}, err
	}
	if err := job.Apply(patch); err != nil {
		return job, fmt.Errorf("update job %s: %w", id, err)
	}
	job.UpdatedAt = time.Now().UTC()
	if err := s.write(job); err != nil {
		return model.Job{}, err
	}
	return job, nil
}

func (s *JSONFS) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

func (s *JSONFS) lock(id string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return &s.locks[h.Sum32()%lockStripes]
}

func (s *JSONFS) read(id string) (model.Job, error) {
	if _, err := uuid.Parse(id); err != nil {
		return model.Job{}, model.ErrNotFound
	}
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return model.Job{}, model.ErrNotFound
		}
		return model.Job{}, err
	}
	var job model.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return model.Job{}, fmt.Errorf("decode job %s: %w", id, err)
	}
	return job, nil
}

func (s *JSONFS) write(job model.Job) error {
	data, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return fmt.Errorf("encode job %s: %w", job.ID, err)
	}
	tmp, err := os.CreateTemp(s.dir, job.ID+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.path(job.ID))
}
