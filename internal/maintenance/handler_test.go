package maintenance

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func countingSweeper(name string, count int64) Sweeper {
	return SweeperFunc{
		SweepName: name,
		Fn: func(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
			return count, nil
		},
	}
}

func invoke(handler *CleanupHandler, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/internal/maintenance/cleanup", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	recorder := httptest.NewRecorder()
	handler.Handle(recorder, req)
	return recorder
}

func TestCleanupRunsAllSweeps(t *testing.T) {
	handler := NewCleanupHandler([]Sweeper{
		countingSweeper("refresh_tokens", 42),
		countingSweeper("otp_challenges", 7),
	}, zap.NewNop().Sugar(), "cron-secret", 14*24*time.Hour, 500)

	recorder := invoke(handler, "Bearer cron-secret")
	require.Equal(t, http.StatusOK, recorder.Code)

	var body struct {
		Status  string           `json:"status"`
		Deleted map[string]int64 `json:"deleted"`
	}
	require.NoError(t, json.NewDecoder(recorder.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, int64(42), body.Deleted["refresh_tokens"])
	assert.Equal(t, int64(7), body.Deleted["otp_challenges"])
}

func TestCleanupRejectsWrongSecret(t *testing.T) {
	handler := NewCleanupHandler(nil, zap.NewNop().Sugar(), "cron-secret", 0, 0)

	assert.Equal(t, http.StatusUnauthorized, invoke(handler, "Bearer wrong").Code)
	assert.Equal(t, http.StatusUnauthorized, invoke(handler, "").Code)
}

func TestCleanupHiddenWithoutSecret(t *testing.T) {
	handler := NewCleanupHandler(nil, zap.NewNop().Sugar(), "", 0, 0)

	assert.Equal(t, http.StatusNotFound, invoke(handler, "Bearer anything").Code)
}

func TestCleanupSweepFailure(t *testing.T) {
	handler := NewCleanupHandler([]Sweeper{
		SweeperFunc{
			SweepName: "refresh_tokens",
			Fn: func(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
				return 0, errors.New("connection reset")
			},
		},
	}, zap.NewNop().Sugar(), "cron-secret", 0, 0)

	assert.Equal(t, http.StatusInternalServerError, invoke(handler, "Bearer cron-secret").Code)
}
