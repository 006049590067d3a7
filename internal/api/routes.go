package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/heimdex/faceswap-kiosk/internal/faceswap"
	"github.com/heimdex/faceswap-kiosk/internal/tracker"
)

func NewRouter(cfg ServerConfig) *chi.Mux {
	cfg.defaults()
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(CORSAllowlist(cfg.AllowedOrigins...))

	r.Get("/health", healthHandler(cfg))

	r.Group(func(r chi.Router) {
		r.Use(LoopbackGuard())
		r.Get("/media/{token}", mediaHandler(cfg))
		r.Head("/media/{token}", mediaHandler(cfg))
	})

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Repository, cfg.Logger))

		r.Get("/status", statusHandler(cfg))
		r.Get("/scenarios", scenariosHandler(cfg))
		r.Post("/jobs", startJobHandler(cfg))
		r.Get("/jobs/{id}", getJobHandler(cfg))
		r.Delete("/jobs/{id}", forgetJobHandler(cfg))
		r.Post("/jobs/{id}/track", trackJobHandler(cfg))
		r.Post("/jobs/{id}/retry", retryJobHandler(cfg))
		r.Get("/jobs/{id}/events", jobEventsHandler(cfg))
		r.Post("/session/reset", resetSessionHandler(cfg))
		r.Get("/history", historyHandler(cfg))
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uptime := int64(time.Since(cfg.StartTime).Seconds())
		resp := HealthResponse{
			Status:  "ok",
			Version: cfg.Version,
			UptimeS: uptime,
		}

		q := r.URL.Query()
		if up, _ := strconv.ParseBool(q.Get("upstream")); up {
			resp.Upstream = &UpstreamHealth{}
			if hc, ok := cfg.Session.Client().(interface{ BaseURL() string }); ok {
				resp.Upstream.BaseURL = hc.BaseURL()
			}

			probe := cfg.Health.Get
			if fresh, _ := strconv.ParseBool(q.Get("refresh")); fresh {
				probe = cfg.Health.Refresh
			}
			h, err := probe(r.Context())
			if err != nil {
				resp.Status = "degraded"
				resp.Upstream.Error = err.Error()
			} else {
				resp.Upstream.Reachable = true
				if !h.Healthy() {
					resp.Status = "degraded"
				}
			}
			if h != nil {
				resp.Upstream.Status = h.Status
				resp.Upstream.FaceFusionReady = h.FaceFusionReady
				resp.Upstream.GPUAvailable = h.GPUAvailable
				resp.Upstream.ResponseMS = h.ResponseTimeMillis
			}
		}

		WriteJSON(w, http.StatusOK, resp)
	}
}

func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := cfg.Session.Status()
		live := cfg.Session.Tracker().Live()

		state := "idle"
		if st.ActiveJobID != "" || len(live) > 0 {
			state = "busy"
		}

		resp := StatusResponse{
			State:   state,
			Session: st,
			Live:    make([]JobResponse, len(live)),
		}
		for i, s := range live {
			resp.Live[i] = SnapshotToResponse(s)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func scenariosHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scenarios, err := cfg.Session.Client().ListScenarios(r.Context())
		if err != nil {
			cfg.Logger.Warn("failed to list scenarios", "error", err)
			WriteError(w, http.StatusBadGateway, "face-swap service unavailable", "UPSTREAM_ERROR")
			return
		}

		resp := ScenariosResponse{Scenarios: make([]ScenarioResponse, len(scenarios))}
		for i, s := range scenarios {
			resp.Scenarios[i] = ScenarioResponse{ID: s.ID, Filename: s.Filename}
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func startJobHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := decodeStart(w, r, cfg.MaxImageBytes)
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}

		h, err := cfg.Session.Tracker().Start(req)
		if err != nil {
			writeTrackerError(w, err)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), cfg.SubmitWait)
		defer cancel()
		snap, _ := h.WaitSubmitted(ctx)

		WriteJSON(w, http.StatusAccepted, SnapshotToResponse(snap))
	}
}

// decodeStart accepts either JSON with a base64 image or a multipart form
// with a face_image file.
func decodeStart(w http.ResponseWriter, r *http.Request, limit int64) (tracker.StartRequest, error) {
	r.Body = http.MaxBytesReader(w, r.Body, limit*2)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(limit); err != nil {
			return tracker.StartRequest{}, errors.New("invalid multipart body")
		}
		file, _, err := r.FormFile("face_image")
		if err != nil {
			return tracker.StartRequest{}, errors.New("face_image is required")
		}
		defer file.Close()
		img, err := io.ReadAll(io.LimitReader(file, limit+1))
		if err != nil {
			return tracker.StartRequest{}, errors.New("failed to read face_image")
		}
		if int64(len(img)) > limit {
			return tracker.StartRequest{}, errors.New("face_image is too large")
		}
		return tracker.StartRequest{FaceImage: img, Scenario: r.FormValue("scenario")}, nil
	}

	var body StartJobRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return tracker.StartRequest{}, errors.New("invalid request body")
	}
	raw := body.FaceImage
	if _, data, ok := strings.Cut(raw, ";base64,"); ok {
		raw = data
	}
	img, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return tracker.StartRequest{}, errors.New("face_image_base64 is not valid base64")
	}
	if int64(len(img)) > limit {
		return tracker.StartRequest{}, errors.New("face_image is too large")
	}
	return tracker.StartRequest{FaceImage: img, Scenario: body.Scenario}, nil
}

func getJobHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		if snap, ok := cfg.Session.Tracker().Lookup(id); ok {
			WriteJSON(w, http.StatusOK, SnapshotToResponse(snap))
			return
		}

		if cfg.Repository != nil {
			job, err := cfg.Repository.GetJob(r.Context(), id)
			if err != nil {
				WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
				return
			}
			if job != nil {
				WriteJSON(w, http.StatusOK, JournalToResponse(job))
				return
			}
		}

		WriteError(w, http.StatusNotFound, "job not found", "NOT_FOUND")
	}
}

func trackJobHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h, err := cfg.Session.Tracker().Track(chi.URLParam(r, "id"))
		if err != nil {
			writeTrackerError(w, err)
			return
		}
		writeHandle(w, h)
	}
}

func retryJobHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h, err := cfg.Session.Tracker().Retry(chi.URLParam(r, "id"))
		if err != nil {
			writeTrackerError(w, err)
			return
		}
		writeHandle(w, h)
	}
}

func writeHandle(w http.ResponseWriter, h *tracker.Handle) {
	status := http.StatusAccepted
	select {
	case <-h.Done():
		status = http.StatusOK
	default:
	}
	WriteJSON(w, status, SnapshotToResponse(h.Snapshot()))
}

func forgetJobHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := cfg.Session.Forget(r.Context(), chi.URLParam(r, "id")); err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func resetSessionHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summary, err := cfg.Session.Reset(r.Context())
		if err != nil {
			writeTrackerError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, summary)
	}
}

func historyHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		jobs, err := cfg.Repository.ListJobs(r.Context(), limit)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list jobs", "INTERNAL_ERROR")
			return
		}

		resp := HistoryResponse{Jobs: make([]HistoryJobResponse, len(jobs))}
		for i, j := range jobs {
			resp.Jobs[i] = HistoryJobToResponse(j)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func mediaHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h, ok := cfg.Session.Cache().Resolve(chi.URLParam(r, "token"))
		if !ok {
			WriteError(w, http.StatusNotFound, "media not found", "NOT_FOUND")
			return
		}
		if err := cfg.PlaybackServer.ServeMedia(w, r, h); err != nil {
			cfg.Logger.Error("playback error", "error", err)
		}
	}
}

func writeTrackerError(w http.ResponseWriter, err error) {
	var (
		ve   *faceswap.ValidationError
		busy *tracker.BusyError
	)
	switch {
	case errors.As(err, &ve):
		WriteError(w, http.StatusBadRequest, ve.Error(), "VALIDATION_ERROR")
	case errors.As(err, &busy):
		WriteError(w, http.StatusConflict, busy.Error(), "BUSY")
	case errors.Is(err, tracker.ErrResetting):
		WriteError(w, http.StatusConflict, err.Error(), "RESETTING")
	case errors.Is(err, tracker.ErrNotRetryable):
		WriteError(w, http.StatusConflict, err.Error(), "NOT_RETRYABLE")
	case errors.Is(err, tracker.ErrClosed):
		WriteError(w, http.StatusServiceUnavailable, err.Error(), "UNAVAILABLE")
	default:
		WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
	}
}
