package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/example/nanoimage/api-go/internal/blob"
	"github.com/example/nanoimage/api-go/internal/logging"
	"github.com/example/nanoimage/api-go/internal/model"
)

const maxUploadBytes = 50 << 20

type JobStore interface {
	CreateJob(ctx context.Context, job model.Job) error
	GetJob(ctx context.Context, id string) (model.Job, error)
}

type Submitter interface {
	Submit(jobID string)
}

type Server struct {
	Blobs          blob.LocalFS
	Jobs           JobStore
	Executor       Submitter
	AllowedOrigins []string
	Logger         logrus.FieldLogger
}

func (s Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.Requests(s.Logger))
	r.Use(s.cors())

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})
	r.Post("/ping", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	r.Route("/api", s.jobRoutes)
	r.Group(s.jobRoutes)

	files := http.StripPrefix("/files/", http.FileServer(http.Dir(s.Blobs.Root)))
	r.Get("/files/*", func(w http.ResponseWriter, r *http.Request) {
		rel := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
		// job documents are not static content
		if rel == "" || strings.HasSuffix(rel, "/") || strings.HasPrefix(path.Clean(rel), "jobs/") || !s.Blobs.Exists(rel) {
			writeErr(w, http.StatusNotFound, errors.New("file not found"))
			return
		}
		files.ServeHTTP(w, r)
	})

	return r
}

func (s Server) jobRoutes(r chi.Router) {
	r.Post("/jobs", s.handleCreateJob)
	r.Get("/jobs/{id}", s.handleGetJob)
}

func (s Server) cors() func(http.Handler) http.Handler {
	origins := s.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})
}

func (s Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("parse multipart: %w", err))
		return
	}

	jobType := strings.TrimSpace(r.FormValue("type"))
	if jobType == "" {
		writeErr(w, http.StatusBadRequest, errors.New("missing 'type' field"))
		return
	}

	params := map[string]any{}
	if raw := strings.TrimSpace(r.FormValue("params")); raw != "" {
		if err := json.Unmarshal([]byte(raw), &params); err != nil {
			writeErr(w, http.StatusBadRequest, errors.New("params must be JSON string"))
			return
		}
		// "null" decodes to a nil map
		if params == nil {
			params = map[string]any{}
		}
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("missing 'file' upload: %w", err))
		return
	}
	defer file.Close()

	id := uuid.NewString()
	inputKey, err := s.Blobs.Put(blob.Key("uploads", id, uploadName(header.Filename)), file)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, fmt.Errorf("store input: %w", err))
		return
	}

	now := time.Now().UTC()
	job := model.Job{
		ID:        id,
		Type:      model.JobType(jobType),
		Status:    model.JobPending,
		Progress:  0,
		Params:    params,
		InputPath: inputKey,
		Results:   []string{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.Jobs.CreateJob(ctx, job); err != nil {
		writeErr(w, http.StatusInternalServerError, fmt.Errorf("create job: %w", err))
		return
	}
	s.Executor.Submit(id)
	s.Logger.WithFields(logrus.Fields{"job_id": id, "type": jobType}).Info("job queued")

	writeJSON(w, http.StatusOK, map[string]any{"job_id": id})
}

func (s Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	job, err := s.Jobs.GetJob(ctx, id)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "Job not found"})
			return
		}
		writeErr(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, jobResponse(job))
}

func jobResponse(job model.Job) map[string]any {
	results := job.Results
	if results == nil {
		results = []string{}
	}
	var jobErr any
	if job.Error != "" {
		jobErr = job.Error
	}
	return map[string]any{
		"id":       job.ID,
		"status":   job.Status,
		"progress": job.Progress,
		"results":  results,
		"error":    jobErr,
	}
}

// uploadName keeps only the base name of the client-supplied filename.
func uploadName(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if base == "." || base == "/" || base == ".." || base == "" {
		return "input.png"
	}
	return base
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]any{"error": err.Error()})
}
