package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/packforge/packforge/pkg/auth"
	"github.com/packforge/packforge/pkg/logging"
	"github.com/packforge/packforge/pkg/models"
	"github.com/packforge/packforge/pkg/pack"
	"github.com/packforge/packforge/pkg/ratelimit"
	"github.com/packforge/packforge/pkg/scheduler"
	"github.com/packforge/packforge/pkg/store"
)

// Hashtag is one entry of the trending report
type Hashtag struct {
	Tag   string `json:"tag"`
	Score int    `json:"score"`
}

var trendingHashtags = []Hashtag{
	{Tag: "#AI", Score: 98},
	{Tag: "#Marketing", Score: 92},
	{Tag: "#LinkedIn", Score: 90},
	{Tag: "#TikTok", Score: 88},
	{Tag: "#Startups", Score: 86},
	{Tag: "#Productivity", Score: 84},
}

// Handler serves the pack-building HTTP API
type Handler struct {
	store      store.Store
	sched      *scheduler.Scheduler
	engine     *pack.Engine
	limiter    *ratelimit.Limiter
	verifier   *auth.TokenVerifier
	log        *logging.Logger
	backlogCap int
	startTime  time.Time
}

// NewHandler creates a new API handler
func NewHandler(s store.Store, sched *scheduler.Scheduler, engine *pack.Engine, limiter *ratelimit.Limiter, verifier *auth.TokenVerifier, backlogCap int, log *logging.Logger) *Handler {
	if backlogCap <= 0 {
		backlogCap = 60
	}
	return &Handler{
		store:      s,
		sched:      sched,
		engine:     engine,
		limiter:    limiter,
		verifier:   verifier,
		log:        log,
		backlogCap: backlogCap,
		startTime:  time.Now(),
	}
}

// RegisterRoutes registers all API routes
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/v1/build-pack", h.BuildPack).Methods("POST")
	r.HandleFunc("/v1/jobs", h.ListJobs).Methods("GET")
	r.HandleFunc("/v1/jobs/{id}", h.GetJob).Methods("GET")
	r.HandleFunc("/v1/packs/{id}", h.GetPack).Methods("GET")
	r.HandleFunc("/v1/trending-hashtags", h.TrendingHashtags).Methods("GET")

	r.HandleFunc("/internal/worker-tick", h.WorkerTick).Methods("POST")
	r.HandleFunc("/internal/admin/cleanup", h.AdminCleanup).Methods("POST")

	r.HandleFunc("/healthz", h.Health).Methods("GET")
	r.HandleFunc("/readyz", h.Ready).Methods("GET")
}

// BuildPack accepts a generation request and queues a job for it. With
// "sync": true the pack is built inline and returned directly.
func (h *Handler) BuildPack(w http.ResponseWriter, r *http.Request) {
	if h.limiter != nil {
		if allowed, retryAfter := h.limiter.AllowWithDelay(ratelimit.ClientIP(r)); !allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())+1))
			writeJSON(w, http.StatusTooManyRequests, map[string]interface{}{
				"error":       "rate_limited",
				"retry_after": retryAfter.Seconds(),
			})
			return
		}
	}

	var req struct {
		models.BuildRequest
		Sync bool `json:"sync"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":  "bad_request",
			"detail": "invalid JSON body",
		})
		return
	}
	if strings.TrimSpace(req.Input) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":  "bad_request",
			"detail": "input is required",
		})
		return
	}

	// Backlog guard: shed load at the door instead of queueing work
	// that would only go stale.
	queued, err := h.store.CountJobs(models.JobStatusQueued)
	if err != nil {
		h.serverError(w, "failed to count queued jobs", err)
		return
	}
	if queued >= h.backlogCap {
		writeJSON(w, http.StatusTooManyRequests, map[string]interface{}{
			"error":       "busy",
			"queued":      queued,
			"backlog_cap": h.backlogCap,
		})
		return
	}

	job := models.NewJob(req.BuildRequest)
	if err := h.store.CreateJob(job); err != nil {
		h.serverError(w, "failed to create job", err)
		return
	}

	if req.Sync {
		ok, err := h.store.UpdateJobIfStatus(job.ID, models.JobStatusQueued, models.ClaimUpdate(time.Now().UTC()))
		if err != nil || !ok {
			h.serverError(w, "failed to claim job for sync build", err)
			return
		}
		if err := h.engine.Process(r.Context(), job.ID); err != nil {
			// Record the real failure on the job row, same verdict the
			// dispatcher would write, so the reclaimer never overwrites
			// it with a stale timeout.
			if _, ferr := h.store.UpdateJobIfStatus(job.ID, models.JobStatusRunning,
				models.FailUpdate(err.Error(), fmt.Sprintf("%+v", err), time.Now().UTC())); ferr != nil {
				h.log.Error("Sync failure writeback failed", map[string]interface{}{
					"job_id": job.ID,
					"error":  ferr.Error(),
				})
			}
			writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
				"error":  "build_failed",
				"job_id": job.ID,
				"detail": err.Error(),
			})
			return
		}
		final, err := h.store.GetJob(job.ID)
		if err != nil {
			h.serverError(w, "failed to reload job", err)
			return
		}
		var builtPack *models.Pack
		if final.PackID != "" {
			builtPack, _ = h.store.GetPack(final.PackID)
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"job":  final,
			"pack": builtPack,
		})
		return
	}

	// Kick the scheduler so the new job does not wait for the next
	// poll. Fire and forget; the tick reports through its own logs.
	h.kickScheduler(2)

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"ok":     true,
		"job_id": job.ID,
		"status": models.JobStatusQueued,
	})
}

// GetJob returns the current status of one job. Every poll doubles as
// a scheduler trigger so queues drain even without a ticker.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	h.kickScheduler(1)

	job, err := h.store.GetJob(mux.Vars(r)["id"])
	if err == store.ErrJobNotFound {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found"})
		return
	}
	if err != nil {
		h.serverError(w, "failed to load job", err)
		return
	}

	writeJSON(w, http.StatusOK, job)
}

// ListJobs lists jobs, optionally filtered by status.
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 500 {
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{
				"error":  "bad_request",
				"detail": "limit must be between 1 and 500",
			})
			return
		}
		limit = parsed
	}

	statuses := []models.JobStatus{
		models.JobStatusQueued,
		models.JobStatusRunning,
		models.JobStatusDone,
		models.JobStatusFailed,
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := models.JobStatus(raw)
		if !status.IsValid() {
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{
				"error":  "bad_request",
				"detail": "unknown status " + raw,
			})
			return
		}
		statuses = []models.JobStatus{status}
	}

	jobs := make([]*models.Job, 0)
	for _, status := range statuses {
		batch, err := h.store.ListJobsByStatus(status, limit)
		if err != nil {
			h.serverError(w, "failed to list jobs", err)
			return
		}
		jobs = append(jobs, batch...)
	}
	// Per-status batches arrive grouped; restore global submission order
	// before truncating.
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})
	if len(jobs) > limit {
		jobs = jobs[:limit]
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// GetPack returns a finished pack by ID
func (h *Handler) GetPack(w http.ResponseWriter, r *http.Request) {
	p, err := h.store.GetPack(mux.Vars(r)["id"])
	if err == store.ErrPackNotFound {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found"})
		return
	}
	if err != nil {
		h.serverError(w, "failed to load pack", err)
		return
	}

	writeJSON(w, http.StatusOK, p)
}

// TrendingHashtags returns the static trending report
func (h *Handler) TrendingHashtags(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"hashtags":     trendingHashtags,
		"generated_at": time.Now().UTC().Format(time.RFC3339),
	})
}

// WorkerTick runs one scheduler pass on demand. Used by external cron
// or poll workers; guarded by the worker token.
func (h *Handler) WorkerTick(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	limit := 1
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{
				"error":  "bad_request",
				"detail": "limit must be a positive integer",
			})
			return
		}
		limit = parsed
	}

	res, err := h.sched.Tick(r.Context(), limit)
	if err != nil {
		h.serverError(w, "tick failed", err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// AdminCleanup reclaims stale running jobs without admitting new ones
func (h *Handler) AdminCleanup(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	reclaimed, err := h.sched.Reclaim()
	if err != nil {
		h.serverError(w, "cleanup failed", err)
		return
	}
	running, _ := h.store.CountJobs(models.JobStatusRunning)
	queued, _ := h.store.CountJobs(models.JobStatusQueued)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":        true,
		"reclaimed": reclaimed,
		"running":   running,
		"queued":    queued,
	})
}

// Health reports liveness plus basic host stats
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status":    "ok",
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		resp["memory_used_percent"] = vm.UsedPercent
	}
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		resp["cpu_percent"] = percents[0]
	}

	writeJSON(w, http.StatusOK, resp)
}

// Ready reports whether the store is reachable
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if err := h.store.HealthCheck(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "unavailable",
			"error":  err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// authorized fails closed: with no verifier or no configured token the
// internal endpoints reject everything.
func (h *Handler) authorized(r *http.Request) bool {
	if h.verifier == nil {
		return false
	}
	return h.verifier.Verify(r.Header.Get("X-Worker-Token"))
}

func (h *Handler) kickScheduler(burst int) {
	go func() {
		if _, err := h.sched.Tick(context.Background(), burst); err != nil {
			h.log.Error("Scheduler kick failed", map[string]interface{}{"error": err.Error()})
		}
	}()
}

func (h *Handler) serverError(w http.ResponseWriter, msg string, err error) {
	fields := map[string]interface{}{}
	if err != nil {
		fields["error"] = err.Error()
	}
	h.log.Error(msg, fields)
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal"})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
