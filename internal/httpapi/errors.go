// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Soko Contributors

package httpapi

import (
	"errors"
	"net/http"

	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	"github.com/sokohq/soko/internal/auth"
	"github.com/sokohq/soko/pkg/errutil"
)

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error  string            `json:"error"`
	Code   string            `json:"code,omitempty"`
	Fields map[string]string `json:"fields,omitempty"`
}

func writeUnauthorized(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusUnauthorized)
	render.JSON(w, r, ErrorResponse{Error: "unauthorized"})
}

// writeError maps err to a status by its auth.ErrorClass. Authentication
// failures all look the same; internal errors are logged and hidden.
func (h *handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var status int
	switch auth.Classify(err) {
	case auth.ClassUnauthorized:
		h.requestLogger(r).DebugContext(r.Context(), "authentication failed", "error", err)
		writeUnauthorized(w, r)
		return
	case auth.ClassValidation:
		status = http.StatusBadRequest
	case auth.ClassNotFound:
		status = http.StatusNotFound
	case auth.ClassConflict:
		status = http.StatusConflict
		if errors.Is(err, auth.ErrAccountAlreadyVerified) {
			status = http.StatusBadRequest
		}
	default:
		errutil.LogErrorContext(r.Context(), h.requestLogger(r), "request failed", err)
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{Error: "internal server error"})
		return
	}

	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Error: err.Error(), Code: errutil.Code(err)})
}

func writeBadRequest(w http.ResponseWriter, r *http.Request, msg string) {
	render.Status(r, http.StatusBadRequest)
	render.JSON(w, r, ErrorResponse{Error: msg})
}

func writeValidationError(w http.ResponseWriter, r *http.Request, errs validator.ValidationErrors) {
	fields := make(map[string]string, len(errs))
	for _, fe := range errs {
		fields[fe.Field()] = fe.Tag()
	}
	render.Status(r, http.StatusBadRequest)
	render.JSON(w, r, ErrorResponse{Error: "invalid request", Fields: fields})
}
