package main

import (
	"context"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"os/signal"
	"path"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/neurodesk/tengine/pkg/jinja2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type httpMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func newHTTPMetrics(reg prometheus.Registerer) *httpMetrics {
	f := promauto.With(reg)
	return &httpMetrics{
		requests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tengine_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		duration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tengine_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
	}
}

// Middleware records HTTP metrics
func (m *httpMetrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		// route pattern, not the path, to keep label cardinality bounded
		routePattern := chi.RouteContext(r.Context()).RoutePattern()
		if routePattern == "" {
			routePattern = r.URL.Path
		}
		labels := []string{r.Method, routePattern, strconv.Itoa(status)}
		m.requests.WithLabelValues(labels...).Inc()
		m.duration.WithLabelValues(labels...).Observe(time.Since(start).Seconds())
	})
}

type server struct {
	eng    *jinja2.Engine
	logger *slog.Logger
}

func newRouter(eng *jinja2.Engine, reg *prometheus.Registry, logger *slog.Logger) http.Handler {
	s := &server{eng: eng, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(newHTTPMetrics(reg).Middleware)

	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.Post("/-/invalidate", s.invalidate)
	r.Get("/*", s.render)
	return r
}

func (s *server) invalidate(w http.ResponseWriter, r *http.Request) {
	s.eng.Invalidate()
	s.logger.Info("template cache invalidated")
	w.WriteHeader(http.StatusNoContent)
}

// render streams the template named by the request path. Query parameters
// become template arguments; repeated parameters become lists.
func (s *server) render(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "*")
	if name == "" || name[len(name)-1] == '/' {
		name += "index"
	}

	tpl, err := s.eng.Get(r.Context(), jinja2.KindBase, name)
	if err != nil {
		if jinja2.IsNotFound(err) {
			http.NotFound(w, r)
			return
		}
		s.logger.Error("compile failed", "template", name, "error", err)
		internalError(w)
		return
	}

	args := make(map[string]any, len(r.URL.Query()))
	for k, vs := range r.URL.Query() {
		if len(vs) == 1 {
			args[k] = vs[0]
			continue
		}
		list := make([]any, len(vs))
		for i, v := range vs {
			list[i] = v
		}
		args[k] = list
	}

	ct := mime.TypeByExtension(path.Ext(name))
	if ct == "" {
		ct = "text/html; charset=utf-8"
	}
	w.Header().Set("Content-Type", ct)

	var wrote bool
	err = s.eng.Execute(r.Context(), tpl, args, func(chunk string) error {
		wrote = true
		_, err := w.Write([]byte(chunk))
		return err
	})
	if err != nil {
		s.logger.Error("render failed", "template", name, "error", err)
		if !wrote {
			internalError(w)
		}
	}
}

// internalError hides template positions and causes from clients; they are
// logged instead.
func internalError(w http.ResponseWriter) {
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}

// serve runs the HTTP server until interrupted.
func serve(ctx context.Context, cfg *tengineConfig, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	eng, err := cfg.newEngine(ctx, logger, reg)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Serve.Addr,
		Handler:           newRouter(eng, reg, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Serve.Addr, "templates", cfg.Templates)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
