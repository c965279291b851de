package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"wedding-bet-service/internal/domain"
)

type errorBody struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decode reads a JSON body into dst and validates its struct tags.
func decode(r *http.Request, v *validator.Validate, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return domain.NewValidationError("body", "malformed JSON payload")
	}
	if err := v.Struct(dst); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return domain.NewValidationError("body", err.Error())
		}
		verr := &domain.ValidationError{}
		for _, fe := range fieldErrs {
			verr.Add(fe.Field(), "failed "+fe.Tag()+" check")
		}
		return verr
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps the error taxonomy to a status. Unexpected errors are
// logged and hidden behind a generic message.
func writeError(w http.ResponseWriter, log zerolog.Logger, err error) {
	status := statusFor(err)
	body := errorBody{Error: err.Error()}

	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		body = errorBody{Error: verr.Error(), Fields: verr.Fields}
	}
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Msg("request failed")
		body = errorBody{Error: "something went wrong, please try again"}
	}
	writeJSON(w, status, body)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrUnauthenticated), errors.Is(err, domain.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrUserNotFound), errors.Is(err, domain.ErrBetNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrEmailTaken),
		errors.Is(err, domain.ErrMissingAnswerKey),
		errors.Is(err, domain.ErrNoBets):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
