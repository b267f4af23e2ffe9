package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"article-digest/internal/adapters/repo"
	"article-digest/internal/domain"
	"article-digest/internal/infra/config"
	"article-digest/internal/infra/db"
	applog "article-digest/internal/infra/log"
	"article-digest/internal/infra/metrics"
)

// Read-only API для наблюдения за пайплайном: статьи по статусу, черновики
// и обработанные статьи без черновика (окно между двумя коммитами).
func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), cfg.MetricsAddr)

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: нет подключения к БД")
	}
	defer pool.Close()

	repoAdapter := repo.NewPostgres(pool)

	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"})
	})

	r.Get("/api/v1/articles", func(w http.ResponseWriter, r *http.Request) {
		status := r.URL.Query().Get("status")
		if status == "" {
			status = domain.ArticleStatusNew
		}
		articles, err := repoAdapter.ListByStatus(r.Context(), status, queryLimit(r))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, articles)
	})

	r.Get("/api/v1/drafts", func(w http.ResponseWriter, r *http.Request) {
		status := r.URL.Query().Get("status")
		if status == "" {
			status = domain.DraftStatusDraft
		}
		drafts, err := repoAdapter.ListDraftsByStatus(r.Context(), status, queryLimit(r))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, drafts)
	})

	r.Get("/api/v1/drafts/missing", func(w http.ResponseWriter, r *http.Request) {
		articles, err := repoAdapter.ListProcessedWithoutDraft(r.Context(), queryLimit(r))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, articles)
	})

	srv := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Port),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Int("port", cfg.Port).Msg("api: сервер запущен")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("api: сервер остановлен с ошибкой")
	}
}

func queryLimit(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 50
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 50
	}
	return limit
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
