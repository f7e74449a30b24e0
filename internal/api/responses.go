package api

import (
	"errors"
	"net/http"

	"github.com/saadverse/presale-engine/internal/engine"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

type PurchaseResponse struct {
	TokensOut18 string `json:"tokensOut18"`
}

type ClaimResponse struct {
	Claimed18 string `json:"claimed18"`
	Reason    string `json:"reason,omitempty"`
}

type OkResponse struct {
	Ok bool `json:"ok"`
}

type RateResponse struct {
	UsdPerNative6 string `json:"usdPerNative6"`
}

type HealthResponse struct {
	Status  string `json:"status"`
	Version uint64 `json:"version"`
}

// statusFor maps an engine failure reason to an HTTP status. The reason
// string itself travels in the error body so clients can act on it.
func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrNotOwner),
		errors.Is(err, engine.ErrNotWhitelisted):
		return http.StatusForbidden
	case errors.Is(err, engine.ErrZeroPayment),
		errors.Is(err, engine.ErrInvalidPhase),
		errors.Is(err, engine.ErrPhaseDeadlinePassed),
		errors.Is(err, engine.ErrCannotBeZero),
		errors.Is(err, engine.ErrZeroAddress),
		errors.Is(err, engine.ErrCapBelowSold),
		errors.Is(err, engine.ErrInvalidSchedule),
		errors.Is(err, engine.ErrSlippageExceeded):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrPresalePaused),
		errors.Is(err, engine.ErrPresaleAlreadyEnded),
		errors.Is(err, engine.ErrPresaleNotEnded),
		errors.Is(err, engine.ErrAlreadyEnded),
		errors.Is(err, engine.ErrNoNextPhase),
		errors.Is(err, engine.ErrPhaseCapExceeded),
		errors.Is(err, engine.ErrExceedsUnsold):
		return http.StatusConflict
	case errors.Is(err, engine.ErrOracleUnavailable),
		errors.Is(err, engine.ErrTransferFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) engineError(w http.ResponseWriter, err error) {
	s.errorResponse(w, statusFor(err), err.Error())
}
