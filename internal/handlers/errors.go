package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"
	"github.com/promptforge/promptforge-api/internal/models"
	"github.com/rs/zerolog"
)

var statusByError = map[error]int{
	models.ErrUnauthenticated:           http.StatusUnauthorized,
	models.ErrAccessDenied:              http.StatusForbidden,
	models.ErrTeamNotFound:              http.StatusNotFound,
	models.ErrAdminRequired:             http.StatusForbidden,
	models.ErrLastAdminProtected:        http.StatusConflict,
	models.ErrSubscriptionRequired:      http.StatusPaymentRequired,
	models.ErrSlugTaken:                 http.StatusConflict,
	models.ErrCapacityExceeded:          http.StatusConflict,
	models.ErrUserNotFound:              http.StatusNotFound,
	models.ErrEmailTaken:                http.StatusConflict,
	models.ErrAlreadyMember:             http.StatusConflict,
	models.ErrMemberNotFound:            http.StatusNotFound,
	models.ErrInvitationAlreadySent:     http.StatusConflict,
	models.ErrInvitationNotFound:        http.StatusNotFound,
	models.ErrInvitationExpired:         http.StatusGone,
	models.ErrInvitationAlreadyAccepted: http.StatusConflict,
	models.ErrEmailMismatch:             http.StatusForbidden,
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors to HTTP statuses. Validation failures
// carry the offending field; anything unclassified is logged and
// returned as a generic failure with no internal detail.
func writeError(w http.ResponseWriter, logger zerolog.Logger, err error) {
	var validation *models.ValidationError
	if errors.As(err, &validation) {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": validation.Reason,
			"field": validation.Field,
		})
		return
	}

	for sentinel, status := range statusByError {
		if errors.Is(err, sentinel) {
			writeJSON(w, status, map[string]string{"error": sentinel.Error()})
			return
		}
	}

	logger.Error().Err(err).Msg("unhandled error")
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}
