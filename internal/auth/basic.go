// Package auth: HTTP Basic для API. Пароль в памяти хранится только как argon2-хэш.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"net/http"

	"golang.org/x/crypto/argon2"

	"wgpeers/internal/logs"
	"wgpeers/internal/middleware"
	"wgpeers/internal/models"
)

const realm = `Basic realm="wgpeers"`

type Basic struct {
	user []byte
	salt []byte
	hash []byte
}

func hash(secret, salt []byte) []byte {
	return argon2.IDKey(secret, salt, 1, 64*1024, 1, 32)
}

// NewBasic запоминает пару логин/пароль. Соль случайная на каждый запуск.
func NewBasic(username, password string) (*Basic, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("auth salt: %w", err)
	}
	return &Basic{user: []byte(username), salt: salt, hash: hash([]byte(password), salt)}, nil
}

// Verify сравнивает за постоянное время и логин, и хэш пароля.
func (b *Basic) Verify(username, password string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(username), b.user)
	passOK := subtle.ConstantTimeCompare(hash([]byte(password), b.salt), b.hash)
	return userOK&passOK == 1
}

// Middleware: 401 с WWW-Authenticate, если учётные данные не подошли.
func (b *Basic) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || !b.Verify(user, pass) {
			logs.Logger.WithField("reqid", middleware.GetRequestID(r)).
				Warnf("unauthorized %s %s from %s", r.Method, r.URL.Path, r.RemoteAddr)
			w.Header().Set("WWW-Authenticate", realm)
			models.WriteProblem(w, models.Problem{
				Status:   http.StatusUnauthorized,
				Detail:   "login required",
				Instance: r.URL.Path,
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}
