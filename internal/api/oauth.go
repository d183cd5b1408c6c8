package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/lalithlochan/tickler/internal/calendar"
)

// OAuthHandler serves the calendar authorization flow.
type OAuthHandler struct {
	logger     *zap.Logger
	authorizer *calendar.Authorizer
}

// NewOAuthHandler creates handlers for the calendar OAuth endpoints.
func NewOAuthHandler(logger *zap.Logger, authorizer *calendar.Authorizer) *OAuthHandler {
	return &OAuthHandler{
		logger:     logger,
		authorizer: authorizer,
	}
}

// Authorize handles GET /v1/calendar/authorize?owner=xxx
// Redirects the owner to the provider's consent page.
func (h *OAuthHandler) Authorize(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		writeProblem(w, http.StatusBadRequest, "invalid_request", "Missing owner", "owner query parameter is required")
		return
	}

	consentURL := h.authorizer.Begin(owner)

	h.logger.Info("calendar authorization started",
		zap.String("owner", owner),
	)

	http.Redirect(w, r, consentURL, http.StatusFound)
}

// Callback handles GET /v1/calendar/callback?state=xxx&code=yyy
// Completes the authorization by exchanging the code for a token grant.
func (h *OAuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	code := r.URL.Query().Get("code")

	if state == "" || code == "" {
		writeProblem(w, http.StatusBadRequest, "invalid_request", "Missing parameters", "state and code query parameters are required")
		return
	}

	owner, err := h.authorizer.Complete(r.Context(), state, code)
	if err != nil {
		if errors.Is(err, calendar.ErrBadState) {
			writeProblem(w, http.StatusBadRequest, "bad_state", "Unknown or expired authorization state", "Restart the authorization from /v1/calendar/authorize")
			return
		}
		h.logger.Error("calendar authorization failed",
			zap.Error(err),
		)
		writeProblem(w, http.StatusBadGateway, "grant_exchange_failed", "Could not complete calendar authorization", "")
		return
	}

	h.logger.Info("calendar authorization completed",
		zap.String("owner", owner),
	)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("<html><body><p>Calendar connected. New reminders will appear in your calendar. You can close this window.</p></body></html>"))
}

func writeProblem(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}
