package main

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// HandleCreateAdminSession exchanges the shared admin secret (already
// verified by AdminAuth) for a short-lived elevated-role session token.
// POST /api/v1/admin/session
func (a *App) HandleCreateAdminSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Subject string `json:"subject"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "Invalid request body")
		return
	}
	if req.Subject == "" {
		req.Subject = "admin"
	}
	token, err := createAdminToken(req.Subject)
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeInternal, "Failed to issue token")
		return
	}
	writeSuccess(w, http.StatusCreated, map[string]string{"token": token})
}

// HandleCreateCafe provisions a partner café and its API key. The plain key
// is returned exactly once.
// POST /api/v1/admin/cafes
func (a *App) HandleCreateCafe(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "Invalid request body")
		return
	}
	if !cafeIDPattern.MatchString(req.ID) {
		writeError(w, http.StatusBadRequest, CodeValidation, "id must match ^[a-z0-9][a-z0-9_-]{1,63}$")
		return
	}
	if len(req.Name) < 1 || len(req.Name) > 120 {
		writeError(w, http.StatusBadRequest, CodeValidation, "name must be 1-120 characters")
		return
	}

	apiKey, err := genToken(32)
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeInternal, "Failed to generate API key")
		return
	}
	hash, err := hashAPIKey(apiKey)
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeInternal, "Failed to hash API key")
		return
	}

	cafe, err := a.DB.CreateCafe(req.ID, req.Name, hash, apiKeyPrefix(apiKey))
	if err != nil {
		writeError(w, http.StatusConflict, CodeConflict, "Cafe already exists")
		return
	}

	writeSuccess(w, http.StatusCreated, map[string]interface{}{
		"cafe": map[string]interface{}{
			"id":             cafe.ID,
			"name":           cafe.Name,
			"api_key_prefix": cafe.APIKeyPrefix,
		},
		"api_key": apiKey, // only returned on creation
	})
}

// HandleListSecurityEvents returns recent admission-layer events.
// GET /api/v1/admin/security-events?limit=N
func (a *App) HandleListSecurityEvents(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 1000 {
			writeError(w, http.StatusBadRequest, CodeValidation, "limit must be 1-1000")
			return
		}
		limit = n
	}
	events, err := a.DB.ListSecurityEvents(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeInternal, "Something went wrong")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

// HandleSweep is the cron-invoked trigger for the hold sweeper. It requires
// a bearer token equal to the configured cron secret; a mismatch returns
// 401 with no side effects.
// GET /api/v1/cron/sweep
func (a *App) HandleSweep(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !secretEqual(token, a.cronSecret) {
		writeError(w, http.StatusUnauthorized, CodeUnauthorized, "Unauthorized")
		return
	}
	res := a.sweeper.Sweep(r.Context(), time.Now().UTC())
	writeJSON(w, http.StatusOK, res)
}
