package api

import (
	"net/http"

	"wgpeers/internal/apperr"
	"wgpeers/internal/logs"
	"wgpeers/internal/middleware"
	"wgpeers/internal/models"
)

// StatusOf: HTTP-код для класса ошибки.
func StatusOf(kind apperr.Kind) int {
	switch kind {
	case apperr.KindInvalidInput:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict, apperr.KindPoolExhausted:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	status := StatusOf(kind)
	reqid := middleware.GetRequestID(r)

	detail := err.Error()
	if kind == apperr.KindStorage {
		// причину хранилища наружу не отдаём, она в логе по reqid
		logs.Logger.WithField("reqid", reqid).WithError(err).Errorf("%s %s failed", r.Method, r.URL.Path)
		detail = "storage failure (see logs by reqid)"
	}
	models.WriteProblem(w, models.Problem{
		Status:   status,
		Detail:   detail,
		Instance: r.URL.Path,
		Kind:     kind.String(),
		Extra:    map[string]any{"reqid": reqid},
	})
}

func badRequest(w http.ResponseWriter, r *http.Request, detail string) {
	models.WriteProblem(w, models.Problem{
		Status:   http.StatusBadRequest,
		Detail:   detail,
		Instance: r.URL.Path,
		Kind:     apperr.KindInvalidInput.String(),
	})
}
