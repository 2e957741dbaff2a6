package rpc

import (
	"net/http"

	"template-backend/internal/apperr"
)

// Transport-level codes that never appear in a contract.
const (
	CodeBadRequest         = "BAD_REQUEST"
	CodeNotFound           = "NOT_FOUND"
	CodeMethodNotSupported = "METHOD_NOT_SUPPORTED"
	CodeInternal           = apperr.CodeInternal
)

// Error is the wire-level error. Defined is true when the procedure contract
// declares Code.
type Error struct {
	Code    string
	Status  int
	Message string
	Data    any
	Defined bool
	cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Issue describes one rejected input field.
type Issue struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// IssuesData is the payload of an input validation failure.
type IssuesData struct {
	Issues []Issue `json:"issues"`
}

func badRequest(message string, issues []Issue) *Error {
	err := &Error{Code: CodeBadRequest, Status: http.StatusBadRequest, Message: message}
	if len(issues) > 0 {
		err.Data = IssuesData{Issues: issues}
	}
	return err
}

func procedureNotFound() *Error {
	return &Error{Code: CodeNotFound, Status: http.StatusNotFound, Message: "Procedure not found"}
}

func internalError(cause error) *Error {
	return &Error{Code: CodeInternal, Status: http.StatusInternalServerError, Message: "Internal server error", cause: cause}
}

// fromAppError converts a taxonomy error, marking it defined when the
// contract lists its code.
func fromAppError(contract Contract, err *apperr.Error) *Error {
	return &Error{
		Code:    err.Code,
		Status:  err.Status,
		Message: err.Message,
		Data:    err.Data,
		Defined: contract.Declares(err.Code),
		cause:   err,
	}
}

// wireError is the JSON shape of an Error.
type wireError struct {
	Defined bool   `json:"defined"`
	Code    string `json:"code"`
	Status  int    `json:"status"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) wire() wireError {
	return wireError{
		Defined: e.Defined,
		Code:    e.Code,
		Status:  e.Status,
		Message: e.Message,
		Data:    e.Data,
	}
}
