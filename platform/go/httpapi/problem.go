package httpapi

import (
	"encoding/json"
	"net/http"
)

const (
	ProblemTypeValidation        = "https://permitdesk.dev/problems/validation-error"
	ProblemTypeUnauthorized      = "https://permitdesk.dev/problems/unauthorized"
	ProblemTypeForbidden         = "https://permitdesk.dev/problems/forbidden"
	ProblemTypeNotFound          = "https://permitdesk.dev/problems/not-found"
	ProblemTypeConflict          = "https://permitdesk.dev/problems/conflict"
	ProblemTypeInvalidTransition = "https://permitdesk.dev/problems/invalid-transition"
	ProblemTypeIncomplete        = "https://permitdesk.dev/problems/incomplete-submission"
	ProblemTypeInternal          = "https://permitdesk.dev/problems/internal-error"
)

// ProblemDetails is the RFC 7807 body returned for every failed request.
type ProblemDetails struct {
	Type   *string              `json:"type,omitempty"`
	Title  string               `json:"title"`
	Status int                  `json:"status"`
	Detail *string              `json:"detail,omitempty"`
	Errors *map[string][]string `json:"errors,omitempty"`
}

// NewProblem builds a problem; empty detail/type are omitted and field errors are copied.
func NewProblem(title, detail, problemType string, status int, fieldErrors map[string][]string) ProblemDetails {
	problem := ProblemDetails{
		Title:  title,
		Status: status,
	}

	if detail != "" {
		problem.Detail = &detail
	}
	if problemType != "" {
		problem.Type = &problemType
	}

	if len(fieldErrors) > 0 {
		copied := make(map[string][]string, len(fieldErrors))
		for field, messages := range fieldErrors {
			copied[field] = append([]string(nil), messages...)
		}
		problem.Errors = &copied
	}

	return problem
}

// WriteProblem renders problem as application/problem+json.
func WriteProblem(w http.ResponseWriter, problem ProblemDetails) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(problem.Status)
	_ = json.NewEncoder(w).Encode(problem)
}
