// Package apperr classifies failures so the REST layer can map them to a
// status and a stable error code.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/mattn/go-sqlite3"
	"modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

type Kind string

const (
	KindValidation    Kind = "validation"
	KindNotFound      Kind = "not_found"
	KindDatabase      Kind = "database"
	KindDispatch      Kind = "dispatch"
	KindInconsistency Kind = "inconsistency"
)

// Stable machine readable codes returned in the response envelope.
const (
	CodeValuesMissing = "ER_VALUES_MISSING"
	CodeValuesInvalid = "ER_VALUES_INVALID"
	CodeNotFound      = "ER_NOT_FOUND"
	CodeDatabase      = "ER_DATABASE"
	CodeGeneral       = "ER_GENERAL"
)

type Error struct {
	Kind    Kind
	Code    string
	Message string
	// DriverCode is the SQLite result code name for database errors.
	DriverCode string
	// Constraint is set when the database rejected the write on a constraint.
	Constraint bool
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Message != "":
		return e.Message + ": " + e.Err.Error()
	case e.Err != nil:
		return e.Err.Error()
	default:
		return e.Message
	}
}

func (e *Error) Unwrap() error { return e.Err }

func Missing(field string) *Error {
	return &Error{Kind: KindValidation, Code: CodeValuesMissing, Message: field + " is missing"}
}

func Invalid(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Code: CodeValuesInvalid, Message: fmt.Sprintf(format, args...)}
}

// InvalidErr wraps a validation failure reported by the domain layer.
func InvalidErr(err error) *Error {
	return &Error{Kind: KindValidation, Code: CodeValuesInvalid, Message: err.Error()}
}

func NotFound(what string) *Error {
	return &Error{Kind: KindNotFound, Code: CodeNotFound, Message: what + " not found"}
}

// Database wraps a storage failure and keeps the driver's result code.
func Database(op string, err error) *Error {
	e := &Error{Kind: KindDatabase, Code: CodeDatabase, Message: op, Err: err}
	e.DriverCode, e.Constraint = driverCode(err)
	return e
}

func Dispatch(err error) *Error {
	return &Error{Kind: KindDispatch, Code: CodeGeneral, Message: "dispatch failed", Err: err}
}

func Inconsistency(format string, args ...any) *Error {
	return &Error{Kind: KindInconsistency, Code: CodeGeneral, Message: fmt.Sprintf(format, args...)}
}

func driverCode(err error) (string, bool) {
	var mattnErr sqlite3.Error
	if errors.As(err, &mattnErr) {
		code := int(mattnErr.ExtendedCode)
		if code == 0 {
			code = int(mattnErr.Code)
		}
		return codeName(code), mattnErr.Code == sqlite3.ErrConstraint
	}
	var moderncErr *sqlite.Error
	if errors.As(err, &moderncErr) {
		code := moderncErr.Code()
		return codeName(code), code&0xff == sqlite3lib.SQLITE_CONSTRAINT
	}
	return "", false
}

// codeName turns a numeric SQLite result code into its symbolic name, e.g.
// SQLITE_CONSTRAINT_UNIQUE.
func codeName(code int) string {
	desc := sqlite.ErrorCodeString[code]
	if open, end := strings.LastIndex(desc, "("), strings.LastIndex(desc, ")"); open >= 0 && end > open {
		return desc[open+1 : end]
	}
	return fmt.Sprintf("SQLITE_%d", code)
}

// As extracts an *Error from err.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// HTTPStatus maps err to a response status.
func HTTPStatus(err error) int {
	e, ok := As(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindDatabase:
		if e.Constraint {
			return http.StatusBadRequest
		}
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// Code returns the stable code for err, ER_GENERAL for unclassified errors.
func Code(err error) string {
	if e, ok := As(err); ok && e.Code != "" {
		return e.Code
	}
	return CodeGeneral
}
