package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/ayo6706/ledger-transfer/internal/api/problem"
	"github.com/ayo6706/ledger-transfer/internal/domain"
	"github.com/redis/go-redis/v9"
)

// Pinger is satisfied by *pgxpool.Pool and repository.Store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler exposes Kubernetes-style liveness and readiness endpoints.
type HealthHandler struct {
	db    Pinger
	redis redis.Cmdable
}

// NewHealthHandler builds the handler. redis may be nil for services that run
// without it.
func NewHealthHandler(db Pinger, redis redis.Cmdable) *HealthHandler {
	return &HealthHandler{db: db, redis: redis}
}

// Live always reports OK – if the process is up, it's live.
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready checks the database and, when configured, Redis.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 1*time.Second)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		problem.WriteCode(w, r, http.StatusServiceUnavailable, domain.CodeUpstreamUnavailable, "database unavailable")
		return
	}

	if h.redis != nil {
		if err := h.redis.Ping(ctx).Err(); err != nil {
			problem.WriteCode(w, r, http.StatusServiceUnavailable, domain.CodeUpstreamUnavailable, "redis unavailable")
			return
		}
	}

	RespondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
