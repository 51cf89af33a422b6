package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	jobdomain "github.com/jinford/novelforge/internal/module/job/domain"
	rtapp "github.com/jinford/novelforge/internal/module/realtime/application"
	rtdomain "github.com/jinford/novelforge/internal/module/realtime/domain"
)

// Deps はゲートウェイが使う依存です
// Subscriber が nil の場合、ストリームはリアルタイム無効として振る舞います
type Deps struct {
	Events       jobdomain.EventLogReader
	Jobs         jobdomain.JobReader
	Metrics      jobdomain.MetricsReader
	Subscriber   rtapp.Subscriber
	CatchupLimit int
	Logger       zerolog.Logger
}

// Server はキャッチアップAPIとイベントストリームを提供します
type Server struct {
	deps   Deps
	logger zerolog.Logger
}

// NewServer は Server を作成します
func NewServer(deps Deps) *Server {
	if deps.CatchupLimit <= 0 {
		deps.CatchupLimit = rtapp.DefaultFeedCapacity
	}
	return &Server{
		deps:   deps,
		logger: deps.Logger.With().Str("component", "gateway").Logger(),
	}
}

// Router はルーティングを構築します
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer, s.requestLogger)

	r.Get("/v1/healthz", s.health)

	r.Route("/v1/jobs/{jobID}", func(r chi.Router) {
		r.Get("/", s.getJob)
		r.Get("/metrics", s.getMetrics)
		r.Get("/events", s.listEvents)
		r.Get("/stream", s.stream)
	})

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("gateway: request")
	})
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	if s.deps.Jobs == nil {
		writeError(w, http.StatusNotImplemented, "job reads are not configured")
		return
	}
	job, err := s.deps.Jobs.Get(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) getMetrics(w http.ResponseWriter, r *http.Request) {
	if s.deps.Metrics == nil {
		writeError(w, http.StatusNotImplemented, "metrics reads are not configured")
		return
	}
	metrics, err := s.deps.Metrics.Get(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, metrics)
}

// eventPage はキャッチアップの1ページです
// NextBefore は次のページを取得するための before の値です（最終ページでは省略）
type eventPage struct {
	Events     []rtdomain.Message `json:"events"`
	NextBefore *time.Time         `json:"nextBefore,omitempty"`
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOptions(r, s.deps.CatchupLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	records, err := s.deps.Events.List(r.Context(), chi.URLParam(r, "jobID"), opts)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	page := eventPage{Events: rtdomain.FromRecords(records)}
	if len(records) == opts.Limit && len(records) > 0 {
		next := records[len(records)-1].EmittedAt
		page.NextBefore = &next
	}
	writeJSON(w, http.StatusOK, page)
}

func parseListOptions(r *http.Request, defaultLimit int) (jobdomain.ListOptions, error) {
	opts := jobdomain.ListOptions{Limit: defaultLimit}
	q := r.URL.Query()

	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit <= 0 {
			return opts, errors.New("limit must be a positive integer")
		}
		opts.Limit = limit
	}
	if v := q.Get("before"); v != "" {
		before, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return opts, errors.New("before must be an RFC 3339 timestamp")
		}
		opts.Before = &before
	}
	return opts.Normalize(), nil
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, jobdomain.ErrJobNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.logger.Error().Err(err).Msg("gateway: store read failed")
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
