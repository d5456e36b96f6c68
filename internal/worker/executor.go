package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/example/nanoimage/api-go/internal/ai"
	"github.com/example/nanoimage/api-go/internal/blob"
	"github.com/example/nanoimage/api-go/internal/model"
	"github.com/example/nanoimage/api-go/internal/prompt"
)

type JobStore interface {
	GetJob(ctx context.Context, id string) (model.Job, error)
	UpdateJob(ctx context.Context, id string, patch model.JobPatch) (model.Job, error)
}

// ProviderFactory builds the adapter for one job run.
type ProviderFactory func(ctx context.Context) (ai.Provider, error)

// Executor runs each submitted job on its own goroutine and owns that job's
// record until it reaches a terminal status.
type Executor struct {
	Jobs        JobStore
	Blobs       blob.LocalFS
	NewProvider ProviderFactory
	BaseURL     string
	Logger      logrus.FieldLogger

	sem *semaphore.Weighted
	ctx context.Context
	wg  sync.WaitGroup
}

// NewExecutor caps concurrent jobs at maxConcurrent; 0 means unbounded.
func NewExecutor(ctx context.Context, jobs JobStore, blobs blob.LocalFS, factory ProviderFactory, baseURL string, maxConcurrent int, logger logrus.FieldLogger) *Executor {
	e := &Executor{
		Jobs:        jobs,
		Blobs:       blobs,
		NewProvider: factory,
		BaseURL:     strings.TrimRight(baseURL, "/"),
		Logger:      logger,
		ctx:         ctx,
	}
	if maxConcurrent > 0 {
		e.sem = semaphore.NewWeighted(int64(maxConcurrent))
	}
	return e
}

// Submit starts the job in the background and returns immediately.
func (e *Executor) Submit(jobID string) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if e.sem != nil {
			if err := e.sem.Acquire(e.ctx, 1); err != nil {
				e.fail(jobID, fmt.Errorf("not started: %w", err))
				return
			}
			defer e.sem.Release(1)
		}
		e.run(jobID)
	}()
}

// Wait blocks until every submitted job has written a terminal status.
func (e *Executor) Wait() {
	e.wg.Wait()
}

// Drain waits up to timeout for in-flight jobs and reports whether they all
// finished.
func (e *Executor) Drain(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (e *Executor) run(jobID string) {
	log := e.Logger.WithField("job_id", jobID)
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("panic: %v", r)
			e.fail(jobID, fmt.Errorf("internal error: %v", r))
		}
	}()

	results, err := e.execute(jobID, log)
	if err != nil {
		log.WithError(err).Error("job failed")
		e.fail(jobID, err)
		return
	}
	_, err = e.Jobs.UpdateJob(e.ctx, jobID, model.JobPatch{
		Status:   model.StatusPtr(model.JobFinished),
		Progress: model.IntPtr(100),
		Results:  results,
	})
	if err != nil {
		log.WithError(err).Error("record finished status")
		e.fail(jobID, err)
		return
	}
	log.Infof("finished with %d output(s)", len(results))
}

func (e *Executor) execute(jobID string, log logrus.FieldLogger) ([]string, error) {
	ctx := e.ctx
	job, err := e.Jobs.UpdateJob(ctx, jobID, model.JobPatch{
		Status:   model.StatusPtr(model.JobRunning),
		Progress: model.IntPtr(5),
	})
	if err != nil {
		return nil, fmt.Errorf("mark running: %w", err)
	}
	log = log.WithField("type", job.Type)
	log.WithFields(logrus.Fields{"input": job.InputPath, "params": job.Params}).Info("start")

	input, err := e.Blobs.ReadAll(job.InputPath)
	if err != nil {
		return nil, fmt.Errorf("read input image: %w", err)
	}

	provider, err := e.NewProvider(ctx)
	if err != nil {
		return nil, err
	}

	opts, err := parseOptions(job.Params)
	if err != nil {
		return nil, err
	}
	log.WithFields(logrus.Fields{
		"provider": provider.Name(),
		"size":     opts.size,
		"n":        opts.n,
	}).Info("execute")

	images, err := e.pipeline(ctx, job, provider, input, opts, log)
	if err != nil {
		return nil, err
	}
	log.Infof("pipeline returned %d image(s)", len(images))

	if _, err := e.Jobs.UpdateJob(ctx, jobID, model.JobPatch{Progress: model.IntPtr(95)}); err != nil {
		return nil, fmt.Errorf("update progress: %w", err)
	}
	return e.saveResults(jobID, images)
}

func (e *Executor) pipeline(ctx context.Context, job model.Job, provider ai.Provider, input []byte, opts options, log logrus.FieldLogger) ([][]byte, error) {
	req := ai.EditRequest{
		Image:    input,
		MIMEType: http.DetectContentType(input),
		Size:     opts.size,
		N:        opts.n,
		Seed:     opts.seed,
	}

	if job.Type == model.JobHairstyleGrid {
		var results [][]byte
		for i, name := range prompt.Hairstyles {
			req.Prompt = prompt.Build(prompt.HairstylePrompt(name), job.Params)
			req.N = 1
			imgs, err := provider.Edit(ctx, req)
			if err != nil {
				return nil, fmt.Errorf("hairstyle %q: %w", name, err)
			}
			log.WithField("hairstyle", name).Infof("%d image(s)", len(imgs))
			if len(imgs) > 0 {
				results = append(results, imgs[0])
			}
			progress := 5 + (i+1)*85/len(prompt.Hairstyles)
			if _, err := e.Jobs.UpdateJob(ctx, job.ID, model.JobPatch{Progress: model.IntPtr(progress)}); err != nil {
				return nil, fmt.Errorf("update progress: %w", err)
			}
		}
		return results, nil
	}

	if tmpl, ok := prompt.Templates[job.Type]; ok {
		req.Prompt = prompt.Build(tmpl, job.Params)
	} else {
		log.Warn("unknown job type, using fallback prompt")
		req.Prompt = prompt.FallbackPrompt
		req.N = 1
	}
	return provider.Edit(ctx, req)
}

func (e *Executor) saveResults(jobID string, images [][]byte) ([]string, error) {
	urls := make([]string, 0, len(images))
	for i, img := range images {
		key := blob.Key("results", jobID, fmt.Sprintf("result_%d.png", i+1))
		if _, err := e.Blobs.Put(key, bytes.NewReader(img)); err != nil {
			return nil, fmt.Errorf("save result %d: %w", i+1, err)
		}
		urls = append(urls, e.BaseURL+blob.PublicPath(key))
	}
	return urls, nil
}

func (e *Executor) fail(jobID string, cause error) {
	_, err := e.Jobs.UpdateJob(context.WithoutCancel(e.ctx), jobID, model.JobPatch{
		Status: model.StatusPtr(model.JobFailed),
		Error:  model.StringPtr(cause.Error()),
	})
	if err != nil && !errors.Is(err, model.ErrInvalidTransition) {
		e.Logger.WithField("job_id", jobID).WithError(err).Error("record failed status")
	}
}

type options struct {
	size string
	n    int
	seed *int64
}

func parseOptions(params map[string]any) (options, error) {
	opts := options{size: ai.DefaultSize, n: 1}
	if v, ok := params["size"]; ok && v != nil {
		if s := strings.TrimSpace(fmt.Sprint(v)); s != "" {
			opts.size = s
		}
	}
	if v, ok := params["n"]; ok && v != nil {
		n, err := toInt(v)
		if err != nil {
			return opts, fmt.Errorf("invalid n: %w", err)
		}
		opts.n = n
	}
	if v, ok := params["seed"]; ok && v != nil {
		seed, err := toInt(v)
		if err != nil {
			return opts, fmt.Errorf("invalid seed: %w", err)
		}
		s := int64(seed)
		opts.seed = &s
	}
	return opts, nil
}

func toInt(v any) (int, error) {
	switch t := v.(type) {
	case float64:
		if t != math.Trunc(t) {
			return 0, fmt.Errorf("%v is not an integer", t)
		}
		return int(t), nil
	case int:
		return t, nil
	case int64:
		return int(t), nil
	case string:
		return strconv.Atoi(strings.TrimSpace(t))
	default:
		return 0, fmt.Errorf("unsupported value %v", v)
	}
}
