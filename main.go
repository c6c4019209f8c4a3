package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/stevemurr/fansite-store/config"
	"github.com/stevemurr/fansite-store/handler"
	"github.com/stevemurr/fansite-store/logger"
	"github.com/stevemurr/fansite-store/metrics"
	"github.com/stevemurr/fansite-store/store"
)

// corsMiddleware wraps an http.Handler with CORS headers.
func corsMiddleware(next http.Handler, allowedOrigins []string) http.Handler {
	// Fast path: wildcard allows everything.
	allowAll := len(allowedOrigins) == 1 && allowedOrigins[0] == "*"

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowAll {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		} else if origin != "" {
			for _, o := range allowedOrigins {
				if strings.TrimSpace(o) == origin {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Vary", "Origin")
					break
				}
			}
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Credentials", "true")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// requestMiddleware logs and counts every request.
func requestMiddleware(next http.Handler, log *logger.Logger, m *metrics.Metrics) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		m.ObserveRequest(r.Method, rec.status)
		log.LogHTTPRequest(r.Method, r.URL.Path, r.RemoteAddr, rec.status,
			float64(time.Since(start).Microseconds())/1000)
	})
}

func main() {
	var configFile string

	rootCmd := &cobra.Command{
		Use:   "fansite-store",
		Short: "Fan site content server backed by JSON collections",
		Long: `fansite-store serves the fan site's CRUD API. Each collection (members,
news, gallery, ...) is one JSON file; all changes to a collection are
applied one at a time inside this process. Run a single server per data
directory.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(configFile)
		},
	}
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to a config file (yaml, json or toml)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(configFile)
		},
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "collections",
		Short: "List stored collections",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(configFile, func(s *store.Store) error {
				names, err := s.Collections()
				if err != nil {
					return err
				}
				for _, n := range names {
					fmt.Fprintln(cmd.OutOrStdout(), n)
				}
				return nil
			})
		},
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "show <collection>",
		Short: "Print a collection as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(configFile, func(s *store.Store) error {
				c, err := s.Read(args[0])
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(c)
			})
		},
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// withStore opens the configured store without the writer lock, so it can
// inspect a directory a running server owns.
func withStore(configFile string, fn func(*store.Store) error) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	s, err := store.Open(cfg.Store.DataDir, store.Options{Backend: cfg.Store.Backend})
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(s)
}

func serve(configFile string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Logger)
	if err != nil {
		return err
	}
	defer log.Close()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	s, err := store.Open(cfg.Store.DataDir, store.Options{
		Backend:      cfg.Store.Backend,
		Logger:       log.WithComponent("store").SugaredLogger,
		Metrics:      m,
		SingleWriter: cfg.Store.SingleWriter,
	})
	if err != nil {
		return fmt.Errorf("failed to open store (backend=%s): %w", cfg.Store.Backend, err)
	}
	defer s.Close()

	mux := http.NewServeMux()
	mux.Handle("/", handler.New(s, log.WithComponent("handler").SugaredLogger))
	if m != nil {
		mux.Handle("GET "+cfg.Metrics.Path, m.Handler())
	}
	wrapped := corsMiddleware(requestMiddleware(mux, log, m), cfg.Security.CORSAllowedOrigins)

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      wrapped,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Infow("Fansite store starting",
			"addr", srv.Addr, "store", cfg.Store.Backend, "data", s.Dir())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Infow("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
