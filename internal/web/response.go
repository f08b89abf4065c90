package web

import (
	"encoding/json"
	"net/http"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"telegram-extractor/internal/authflow"
	"telegram-extractor/internal/infra/logger"
	"telegram-extractor/internal/infra/ratelimit"
)

// apiResponse — единый конверт JSON-ответов. Булевы поля, у которых значим
// явный false (success, hasSession, phoneRegistered), объявлены указателями:
// omitempty не должен их прятать.
type apiResponse struct {
	Success            *bool  `json:"success,omitempty"`
	Message            string `json:"message,omitempty"`
	Error              string `json:"error,omitempty"`
	Code               string `json:"code,omitempty"`
	RetryAfter         int    `json:"retryAfter,omitempty"`
	RequiresValidation bool   `json:"requiresValidation,omitempty"`
	Requires2FA        bool   `json:"requires2FA,omitempty"`
	PhoneRegistered    *bool  `json:"phoneRegistered,omitempty"`
	HasSession         *bool  `json:"hasSession,omitempty"`
	Data               any    `json:"data,omitempty"`
}

func boolp(v bool) *bool { return &v }

// writeJSON сериализует ответ и логирует сбой записи в соединение.
func writeJSON(w http.ResponseWriter, status int, resp apiResponse) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Error("failed to write response", zap.Error(err))
	}
}

// writeError переводит доменную ошибку в HTTP-ответ. Истёкший код — не сбой
// протокола, а штатная развилка клиента, поэтому уходит со статусом 200
// и дискриминатором code.
func writeError(w http.ResponseWriter, err error) {
	var (
		inputErr   *authflow.InputError
		retryErr   *authflow.RetryAfterError
		connectErr *authflow.ConnectError
	)

	switch {
	case errors.As(err, &inputErr):
		writeJSON(w, http.StatusBadRequest, apiResponse{Error: inputErr.Error()})

	case errors.Is(err, ratelimit.ErrRateLimited):
		writeJSON(w, http.StatusTooManyRequests, apiResponse{
			Error: "Too many requests, please try again later.",
		})

	case errors.As(err, &retryErr):
		writeJSON(w, http.StatusTooManyRequests, apiResponse{
			Error:      "Telegram is throttling this number, please retry later.",
			RetryAfter: int(retryErr.Wait.Seconds()),
		})

	case errors.Is(err, authflow.ErrCodeExpired):
		writeJSON(w, http.StatusOK, apiResponse{
			Success: boolp(false),
			Code:    "PHONE_CODE_EXPIRED",
			Message: "The verification code has expired. Please request a new code.",
		})

	case errors.Is(err, authflow.ErrInvalidCode):
		writeJSON(w, http.StatusBadRequest, apiResponse{
			Success: boolp(false),
			Message: "Invalid validation code. Please try again.",
		})

	case errors.Is(err, authflow.ErrInvalidPassword):
		writeJSON(w, http.StatusBadRequest, apiResponse{
			Success: boolp(false),
			Message: "Invalid 2FA password. Please try again.",
		})

	case errors.Is(err, authflow.ErrNoCodeRequested):
		writeJSON(w, http.StatusBadRequest, apiResponse{
			Error: "No verification code was requested for this number.",
		})

	case errors.Is(err, authflow.ErrNoPendingTwoFactor):
		writeJSON(w, http.StatusBadRequest, apiResponse{
			Error: "No pending 2FA step for this number.",
		})

	case errors.Is(err, authflow.ErrAlreadyAuthenticated):
		writeJSON(w, http.StatusOK, apiResponse{
			Success: boolp(true),
			Message: "Already authenticated.",
		})

	case errors.Is(err, authflow.ErrNotAuthenticated):
		writeJSON(w, http.StatusUnauthorized, apiResponse{
			Error: "This number is not authenticated.",
		})

	case errors.As(err, &connectErr):
		logger.Error("telegram connect failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, apiResponse{
			Error: "Failed to connect to Telegram, please try again later.",
		})

	default:
		logger.Error("unexpected handler error", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, apiResponse{
			Error: "Internal server error.",
		})
	}
}
