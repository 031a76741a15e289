package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/allensuvorov/logamizer/internal/auth"
	"github.com/allensuvorov/logamizer/internal/blobstore"
	"github.com/allensuvorov/logamizer/internal/config"
	"github.com/allensuvorov/logamizer/internal/httputil"
	"github.com/allensuvorov/logamizer/internal/pipeline"
	"github.com/allensuvorov/logamizer/internal/store"
	"github.com/allensuvorov/logamizer/internal/store/memstore"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load(os.Getenv("LOGAMIZER_CONFIG_FILE"))
	if err != nil {
		log.WithError(err).Fatal("loading config")
	}

	blobs, err := blobstore.NewLocal(blobDir())
	if err != nil {
		log.WithError(err).Fatal("creating blob store")
	}

	var st store.Store = memstore.New()

	server := newServer(cfg, log, st, blobs)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.WithField("addr", cfg.ListenAddr()).Info("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server exited")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
}

func blobDir() string {
	if d := os.Getenv("LOGAMIZER_BLOB_DIR"); d != "" {
		return d
	}
	return "./data/blobs"
}

func newServer(cfg config.Config, log *logrus.Logger, st store.Store, blobs *blobstore.Local) *http.Server {
	driver := pipeline.New(st, blobs, func(jobID string, percent int, message string) {
		log.WithFields(logrus.Fields{"job_id": jobID, "percent": percent}).Debug(message)
	})
	queue := pipeline.NewQueue(context.Background(), driver, 4)

	api := &apiHandlers{store: st, blobs: blobs, queue: queue, log: log}

	public := http.NewServeMux()
	public.HandleFunc("GET /healthz", healthz)
	public.Handle("GET /metrics", promhttp.Handler())

	protected := http.NewServeMux()
	protected.HandleFunc("GET /ping", ping)
	api.registerRoutes(protected)

	protectedWithAuth := authMiddleware(cfg)(protected)
	protectedWithCORS := httputil.CORS(cfg.CORSOrigin)(protectedWithAuth)

	root := http.NewServeMux()
	root.Handle("GET /healthz", public)
	root.Handle("GET /metrics", public)
	root.Handle("/", protectedWithCORS)

	return &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           root,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// authMiddleware falls back to a permissive no-op when BASIC_USER/PASS
// aren't configured, which keeps `go run ./cmd/api` usable for local
// testing without the teacher's original panic-on-missing-credentials
// behavior; production deployments should always set both.
func authMiddleware(cfg config.Config) func(http.Handler) http.Handler {
	if cfg.BasicUser == "" || cfg.BasicPass == "" {
		return func(next http.Handler) http.Handler { return next }
	}
	return auth.BasicAuth(cfg.BasicUser, cfg.BasicPass)
}

func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func ping(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("pong\n"))
}
