package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/fuomag9/creator-connect/internal/connect"
	"github.com/fuomag9/creator-connect/internal/connection"
)

// HandleGetConnections returns the current user's platform connections
func HandleGetConnections(svc *connect.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := UserIDFromContext(r.Context())

		conns, err := svc.Connections(r.Context(), userID)
		if err != nil {
			log.Error("Failed to list connections", zap.String("user_id", userID), zap.Error(err))
			http.Error(w, "Failed to fetch connections", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(conns)
	}
}

// HandleDeleteConnection disconnects a platform and deletes its stored tokens
func HandleDeleteConnection(svc *connect.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := UserIDFromContext(r.Context())
		platform := chi.URLParam(r, "platform")

		err := svc.Disconnect(r.Context(), userID, platform)
		if errors.Is(err, connection.ErrNotFound) {
			http.Error(w, "Connection not found", http.StatusNotFound)
			return
		}
		if err != nil {
			log.Error("Failed to delete connection",
				zap.String("user_id", userID),
				zap.String("platform", platform),
				zap.Error(err))
			http.Error(w, "Failed to delete connection", http.StatusInternalServerError)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}
