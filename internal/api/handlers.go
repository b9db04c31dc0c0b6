package api

import (
	"errors"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/smartpymes/restaurante/internal/calendar"
	"github.com/smartpymes/restaurante/internal/models"
)

var resultPage = template.Must(template.New("result").Parse(`<!doctype html>
<html lang="es"><head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body><h1>{{.Title}}</h1><p>{{.Message}}</p></body></html>
`))

type pageData struct {
	Title   string
	Message string
}

func renderPage(w http.ResponseWriter, status int, data pageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := resultPage.Execute(w, data); err != nil {
		slog.Error("Server.renderPage: failed to render page", "error", err)
	}
}

func allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	slog.Warn("Server: method not allowed", "method", r.Method, "path", r.URL.Path)
	writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
	return false
}

// rateLimited rejects requests beyond the webhook rate with 429.
func (s *Server) rateLimited(next http.HandlerFunc) http.HandlerFunc {
	if s.limiter == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			slog.Warn("Server.rateLimited: rate limit exceeded", "path", r.URL.Path, "remote", r.RemoteAddr)
			writeJSONResponse(w, http.StatusTooManyRequests, models.Error("Rate limit exceeded. Try again later."))
			return
		}
		next(w, r)
	}
}

func (s *Server) webhookHandler(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	s.webhook(w, r)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(nil))
}

// oauthStartHandler redirects the operator to the Google consent screen.
func (s *Server) oauthStartHandler(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	authURL, err := s.authorizer.AuthURL()
	if err != nil {
		slog.Error("Server.oauthStartHandler: failed to build consent URL", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to start authorization"))
		return
	}
	slog.Info("Server.oauthStartHandler: redirecting to consent screen")
	http.Redirect(w, r, authURL, http.StatusFound)
}

// oauthCallbackHandler finishes the consent flow and stores the credential.
func (s *Server) oauthCallbackHandler(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	q := r.URL.Query()
	if denied := q.Get("error"); denied != "" {
		slog.Warn("Server.oauthCallbackHandler: consent denied", "error", denied)
		renderPage(w, http.StatusBadRequest, pageData{
			Title:   "Autorización cancelada",
			Message: "No se otorgó acceso al calendario. Escribe *auth google* en WhatsApp para intentarlo de nuevo.",
		})
		return
	}

	err := s.authorizer.Exchange(r.Context(), q.Get("code"), q.Get("state"))
	switch {
	case err == nil:
		renderPage(w, http.StatusOK, pageData{
			Title:   "✅ Calendario autorizado",
			Message: "Ya puedes cerrar esta ventana y volver a WhatsApp.",
		})
	case errors.Is(err, calendar.ErrInvalidState):
		slog.Warn("Server.oauthCallbackHandler: invalid state", "error", err)
		renderPage(w, http.StatusBadRequest, pageData{
			Title:   "Enlace vencido",
			Message: "El enlace de autorización no es válido o expiró. Solicita uno nuevo.",
		})
	default:
		slog.Error("Server.oauthCallbackHandler: exchange failed", "error", err)
		renderPage(w, http.StatusBadGateway, pageData{
			Title:   "Error de autorización",
			Message: "No pudimos completar la autorización con Google. Inténtalo más tarde.",
		})
	}
}
