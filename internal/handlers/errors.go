package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/ieraasyl/PulseClient/internal/gateway"
	"github.com/ieraasyl/PulseClient/internal/services"
	"github.com/ieraasyl/PulseClient/pkg/utils"
	"github.com/rs/zerolog/log"
)

// maxBodyBytes caps dashboard request bodies.
const maxBodyBytes = 1 << 20

// respondError maps service errors onto HTTP statuses:
//
//	*services.ValidationError      400 with fields
//	*services.AuthenticationError  401
//	ErrBusy, ErrInvalidTransition,
//	ErrStaleResponse               409
//	404 from the API               404
//	anything else                  502
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	var validation *services.ValidationError
	var auth *services.AuthenticationError

	switch {
	case errors.As(err, &validation):
		utils.RespondWithFieldErrors(w, r, http.StatusBadRequest, "validation failed", validation.Fields)
	case errors.As(err, &auth):
		utils.RespondWithError(w, r, http.StatusUnauthorized, auth.Error())
	case errors.Is(err, services.ErrBusy),
		errors.Is(err, services.ErrInvalidTransition),
		errors.Is(err, services.ErrStaleResponse):
		utils.RespondWithError(w, r, http.StatusConflict, err.Error())
	case gateway.IsNotFound(err):
		utils.RespondWithError(w, r, http.StatusNotFound, "not found")
	default:
		log.Error().
			Err(err).
			Str("request_id", utils.GetRequestID(r.Context())).
			Msg("Upstream request failed")
		utils.RespondWithError(w, r, http.StatusBadGateway, "upstream request failed")
	}
}

// decodeBody decodes a JSON request body into v. A malformed body is
// answered with 400 and false is returned.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		utils.RespondWithError(w, r, http.StatusBadRequest, fmt.Sprintf("invalid JSON body: %v", err))
		return false
	}
	return true
}
