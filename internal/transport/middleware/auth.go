package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	errors "github.com/frahmantamala/stkpush-checkout/internal"
	"github.com/frahmantamala/stkpush-checkout/pkg/logger"
)

// OperatorTokenValidator resolves a bearer token to an operator name.
type OperatorTokenValidator interface {
	OperatorFromToken(token string) (string, error)
}

// RequireOperator rejects requests without a valid operator bearer token and
// stores the operator on the request context.
func RequireOperator(validator OperatorTokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				writeAuthError(w, errors.NewUnauthorizedError("Authentication required", errors.ErrCodeInvalidToken))
				return
			}

			operator, err := validator.OperatorFromToken(token)
			if err != nil {
				appErr, ok := errors.IsAppError(err)
				if !ok {
					appErr = errors.ErrInvalidToken
				}
				logger.From(r.Context()).Warn("operator token rejected", "error", err)
				writeAuthError(w, appErr)
				return
			}

			ctx := errors.ContextWithOperator(r.Context(), operator)
			ctx = logger.With(ctx, "operator", operator)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if len(header) < 7 || !strings.EqualFold(header[:7], "Bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}

func writeAuthError(w http.ResponseWriter, appErr *errors.AppError) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error": appErr.Message,
		"code":  string(appErr.Code),
	})
}
