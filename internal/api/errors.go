package api

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ApiError is the JSON body of every failed request to the chat API. Err is
// logged server side and never serialized.
type ApiError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Err        error  `json:"-"`
}

func (e *ApiError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *ApiError) Unwrap() error {
	return e.Err
}

func newApiError(status int, err error) *ApiError {
	return &ApiError{
		StatusCode: status,
		Message:    strings.ToLower(http.StatusText(status)),
		Err:        err,
	}
}

func NewBadRequestError() *ApiError {
	return newApiError(http.StatusBadRequest, nil)
}

// NewUnauthorizedError is returned for a missing, expired or forged session token.
func NewUnauthorizedError() *ApiError {
	return newApiError(http.StatusUnauthorized, nil)
}

// NewForbiddenError is returned to users who are neither the round's creator
// nor an accepted player.
func NewForbiddenError() *ApiError {
	return newApiError(http.StatusForbidden, nil)
}

func NewNotFoundError() *ApiError {
	return newApiError(http.StatusNotFound, nil)
}

func NewInternalServerError(err error) *ApiError {
	return newApiError(http.StatusInternalServerError, err)
}

// repositoryError maps a ChatRepository failure: a missing round, room or user
// is a 404, anything else a 500.
func repositoryError(err error) *ApiError {
	if errors.Is(err, sql.ErrNoRows) {
		return NewNotFoundError()
	}
	return NewInternalServerError(err)
}
