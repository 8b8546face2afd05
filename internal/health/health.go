package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"gorm.io/gorm"

	"wgpeers/internal/db"
	"wgpeers/internal/logs"
)

// pingTimeout: /readyz не должен висеть дольше, чем ждёт балансировщик.
const pingTimeout = 2 * time.Second

// RegisterRoutes: /healthz (процесс жив) и /readyz (БД отвечает).
func RegisterRoutes(r *mux.Router, d *gorm.DB) {
	r.HandleFunc("/healthz", liveness).Methods(http.MethodGet)
	r.HandleFunc("/readyz", readiness(d)).Methods(http.MethodGet)
}

func readiness(d *gorm.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d == nil {
			http.Error(w, "db not configured", http.StatusServiceUnavailable)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
		defer cancel()
		if err := db.Ping(ctx, d); err != nil {
			logs.Logger.WithError(err).Warn("readyz: db unreachable")
			http.Error(w, "db unreachable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	}
}

func liveness(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}
