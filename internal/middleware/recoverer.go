package middleware

import (
	"net/http"
	"runtime/debug"

	"wgpeers/internal/logs"
	"wgpeers/internal/models"
)

// Recoverer перехватывает панику в обработчике, пишет лог со стеком
// и возвращает 500 в формате application/problem+json.
func Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				reqid := GetRequestID(r)
				logs.Logger.WithField("reqid", reqid).
					Errorf("panic: %v uri=%s method=%s\nstack:\n%s", rec, r.RequestURI, r.Method, debug.Stack())
				models.WriteProblem(w, models.Problem{
					Status:   http.StatusInternalServerError,
					Detail:   "unexpected server error (see logs by reqid)",
					Instance: r.URL.Path,
					Kind:     "storage",
					Extra:    map[string]any{"reqid": reqid},
				})
			}
		}()
		next.ServeHTTP(w, r)
	})
}
