package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/rs/cors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type requestIDKey struct{}

const requestIDHeader = "X-Request-ID"

func requestIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return uuid.NewString()
}

// withRequestID tags every request with an ID, reusing the client's if sent.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	n, err := s.ResponseWriter.Write(b)
	s.bytes += n
	return n, err
}

func accessLog(logger *zap.SugaredLogger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)
			if rec.status == 0 {
				rec.status = http.StatusOK
			}
			logger.Debugw("request",
				"request_id", requestIDFrom(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"bytes", rec.bytes,
				"duration", time.Since(start),
			)
		})
	}
}

func (s *AppState) addRoutes(r *mux.Router) {
	r.HandleFunc("/detect", handleDetect(s)).Methods(http.MethodPost)
	r.HandleFunc("/statistics", handleStatistics(s)).Methods(http.MethodGet)
	r.HandleFunc("/config", handleConfig(s)).Methods(http.MethodPost)
	r.HandleFunc("/health", handleHealth(s)).Methods(http.MethodGet)
	r.HandleFunc("/mission_objects", handleMissionObjects(s)).Methods(http.MethodGet)
	s.addMonitoringRoutes(r)
}

func (s *AppState) addMonitoringRoutes(r *mux.Router) {
	r.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)
}

// newRouter mounts the API at the root and under /api, plus the optional
// frontend, behind CORS.
func newRouter(state *AppState) http.Handler {
	r := mux.NewRouter()
	r.Use(withRequestID, accessLog(state.Logger))

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/predict", handleDetect(state)).Methods(http.MethodPost)
	state.addRoutes(api)
	state.addRoutes(r)

	if dir := state.Config.StaticDir; dir != "" {
		fs := http.FileServer(http.Dir(dir))
		r.PathPrefix("/static/").Handler(http.StripPrefix("/static/", fs))
		r.PathPrefix("/").Handler(fs).Methods(http.MethodGet, http.MethodHead)
	}

	c := cors.New(cors.Options{
		AllowedOrigins: state.Config.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", requestIDHeader},
		ExposedHeaders: []string{requestIDHeader},
	})
	return c.Handler(r)
}

// runServer serves until ctx is done or SIGINT/SIGTERM arrives, then drains
// in-flight requests.
func runServer(ctx context.Context, state *AppState) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Handler:      newRouter(state),
		Addr:         state.Config.Addr(),
		WriteTimeout: state.Config.WriteTimeout,
		ReadTimeout:  state.Config.ReadTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		state.Logger.Infof("Starting server on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "listen")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		state.Logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), state.Config.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
