package app

import (
	"fmt"
	"net/http"

	"armory/api/internal/normalize"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func errUnknownCollection(name string) *DomainError {
	return domainError(http.StatusNotFound, "UNKNOWN_COLLECTION", fmt.Sprintf("Unknown collection %q", name),
		map[string]any{"collections": normalize.Entities()})
}
