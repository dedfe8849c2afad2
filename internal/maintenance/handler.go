package maintenance

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Sweeper is one retention sweep over a store; each returns how many rows it
// deleted.
type Sweeper interface {
	Name() string
	SweepStale(ctx context.Context, cutoff time.Time, batchSize int) (int64, error)
}

// SweeperFunc adapts a bare sweep function.
type SweeperFunc struct {
	SweepName string
	Fn        func(ctx context.Context, cutoff time.Time, batchSize int) (int64, error)
}

func (s SweeperFunc) Name() string { return s.SweepName }

func (s SweeperFunc) SweepStale(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	return s.Fn(ctx, cutoff, batchSize)
}

// CleanupHandler runs the registered sweeps when invoked by the scheduler.
// The endpoint only exists when a cron secret is configured.
type CleanupHandler struct {
	sweepers   []Sweeper
	logger     *zap.SugaredLogger
	cronSecret string
	retention  time.Duration
	batchSize  int
}

func NewCleanupHandler(sweepers []Sweeper, logger *zap.SugaredLogger, cronSecret string, retention time.Duration, batchSize int) *CleanupHandler {
	if retention <= 0 {
		retention = 14 * 24 * time.Hour
	}
	if batchSize <= 0 {
		batchSize = 500
	}
	return &CleanupHandler{
		sweepers:   sweepers,
		logger:     logger,
		cronSecret: strings.TrimSpace(cronSecret),
		retention:  retention,
		batchSize:  batchSize,
	}
}

func (h *CleanupHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if h.cronSecret == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}

	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) != h.cronSecret {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	cutoff := time.Now().UTC().Add(-h.retention)
	deleted := make(map[string]int64, len(h.sweepers))
	for _, sweeper := range h.sweepers {
		count, err := sweeper.SweepStale(r.Context(), cutoff, h.batchSize)
		if err != nil {
			h.logger.Errorw("retention_sweep_failed", "sweep", sweeper.Name(), "error", err.Error())
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "cleanup failed"})
			return
		}
		deleted[sweeper.Name()] = count
	}

	h.logger.Infow("retention_sweep_completed", "deleted", deleted)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"deleted": deleted,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
