package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pulsekit/fitvault/internal/config"
	"github.com/pulsekit/fitvault/internal/providers"
	"github.com/pulsekit/fitvault/internal/vault"
)

// HandleOAuthAuthorize initiates the PKCE authorization flow and redirects
// the browser to the provider.
func HandleOAuthAuthorize(flow *vault.Flow) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		provider := chi.URLParam(r, "provider")
		tenantID := tenantFromContext(r.Context())
		userID := userFromRequest(r)
		if userID == "" {
			http.Error(w, "user_id is required", http.StatusBadRequest)
			return
		}

		authURL, err := flow.BeginConnect(r.Context(), tenantID, userID, provider, r.URL.Query().Get("redirect_uri"))
		if err != nil {
			var unknown *providers.ErrUnknownProvider
			if errors.As(err, &unknown) {
				http.Error(w, unknown.Error(), http.StatusNotFound)
				return
			}
			log.Printf("OAuth: failed to begin connect for %s: %v", provider, err)
			http.Error(w, "Failed to initiate OAuth", http.StatusInternalServerError)
			return
		}

		http.Redirect(w, r, authURL, http.StatusFound)
	}
}

// HandleOAuthCallback completes the code exchange and redirects the browser
// to the application result page with success/error query parameters.
func HandleOAuthCallback(flow *vault.Flow, cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		provider := chi.URLParam(r, "provider")
		code := r.URL.Query().Get("code")
		state := r.URL.Query().Get("state")

		if code == "" || state == "" {
			redirectResult(w, r, cfg, provider, "missing code or state")
			return
		}

		_, err := flow.CompleteConnect(r.Context(), state, code)
		switch {
		case err == nil:
			redirectResult(w, r, cfg, provider, "")
		case errors.Is(err, vault.ErrInvalidState):
			redirectResult(w, r, cfg, provider, "invalid_state")
		case errors.Is(err, vault.ErrExchangeFailed):
			redirectResult(w, r, cfg, provider, "exchange_failed")
		default:
			log.Printf("OAuth: callback for %s failed: %v", provider, err)
			redirectResult(w, r, cfg, provider, "internal_error")
		}
	}
}

// redirectResult sends the browser to APP_URL/oauth/result carrying the
// outcome. Token material never appears in the redirect.
func redirectResult(w http.ResponseWriter, r *http.Request, cfg *config.Config, provider, errCode string) {
	params := url.Values{}
	params.Set("provider", provider)
	if errCode == "" {
		params.Set("success", "true")
	} else {
		params.Set("success", "false")
		params.Set("error", errCode)
	}

	http.Redirect(w, r, cfg.AppURL+"/oauth/result?"+params.Encode(), http.StatusFound)
}

// HandleDisconnect revokes and hard-deletes a connection. Disconnecting a
// provider that was never connected is a no-op success.
func HandleDisconnect(coordinator *vault.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		provider := chi.URLParam(r, "provider")
		tenantID := tenantFromContext(r.Context())
		userID := userFromRequest(r)
		if userID == "" {
			http.Error(w, "user_id is required", http.StatusBadRequest)
			return
		}

		if err := coordinator.Disconnect(r.Context(), tenantID, userID, provider); err != nil {
			log.Printf("OAuth: disconnect %s failed: %v", provider, err)
			http.Error(w, "Failed to disconnect provider", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{"disconnected": true, "provider": provider})
	}
}

// HandleProviderStatus lists every configured provider with its connection
// state for the user.
func HandleProviderStatus(coordinator *vault.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID := tenantFromContext(r.Context())
		userID := userFromRequest(r)
		if userID == "" {
			http.Error(w, "user_id is required", http.StatusBadRequest)
			return
		}

		statuses, err := coordinator.ConnectionStatus(r.Context(), tenantID, userID)
		if err != nil {
			log.Printf("OAuth: status listing failed: %v", err)
			http.Error(w, "Failed to list providers", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{"providers": statuses})
	}
}

// tokenEnvelope is the response for the internal token endpoint. The access
// token is plaintext for the immediate caller's provider API call; it must
// not be cached or logged downstream.
type tokenEnvelope struct {
	AccessToken string    `json:"access_token"`
	Provider    string    `json:"provider"`
	ServedAt    time.Time `json:"served_at"`
}

// HandleGetToken serves a currently-valid access token to the tool-dispatch
// layer, refreshing through the coordinator when needed.
func HandleGetToken(coordinator *vault.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		provider := chi.URLParam(r, "provider")
		tenantID := tenantFromContext(r.Context())
		userID := userFromRequest(r)
		if userID == "" {
			http.Error(w, "user_id is required", http.StatusBadRequest)
			return
		}

		token, err := coordinator.GetValidToken(r.Context(), tenantID, userID, provider)
		if err != nil {
			status, code := classifyTokenError(err)
			writeJSON(w, status, map[string]any{"error": code})
			return
		}

		writeJSON(w, http.StatusOK, tokenEnvelope{
			AccessToken: token,
			Provider:    provider,
			ServedAt:    time.Now().UTC(),
		})
	}
}

func classifyTokenError(err error) (int, string) {
	var unknown *providers.ErrUnknownProvider
	switch {
	case errors.As(err, &unknown):
		return http.StatusNotFound, "unknown_provider"
	case errors.Is(err, vault.ErrNotConnected):
		return http.StatusNotFound, "not_connected"
	case errors.Is(err, vault.ErrNeedsReauth):
		return http.StatusConflict, "needs_reauth"
	case errors.Is(err, vault.ErrProviderUnavailable):
		return http.StatusServiceUnavailable, "provider_unavailable"
	default:
		log.Printf("OAuth: token request failed: %v", err)
		return http.StatusBadGateway, "refresh_failed"
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
