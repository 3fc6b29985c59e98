// Package ckerrors defines the exhaustive tagged-error taxonomy shared by
// every core subsystem. Every error carries a one-line message including
// the offending identifier; no stack traces are part of the contract.
package ckerrors

import "fmt"

// Code classifies the failure. Callers switch on Code, never on message text.
type Code string

const (
	// Naming
	CodeUrnParse         Code = "urn_parse"
	CodeUrnValidation    Code = "urn_validation"
	CodeInvalidUrnFormat Code = "invalid_urn_format"
	CodeInvalidKernelName Code = "invalid_kernel_name"
	CodeInvalidVersion   Code = "invalid_version"
	CodeInvalidPredicate Code = "invalid_predicate"
	CodeInvalidEdgeUrn   Code = "invalid_edge_urn"
	CodeInvalidAgentUrn  Code = "invalid_agent_urn"

	// Filesystem / IO
	CodeIO          Code = "io"
	CodePath        Code = "path"
	CodeFileNotFound Code = "file_not_found"
	CodeInvalidPath Code = "invalid_path"

	// Parsing
	CodeYaml        Code = "yaml"
	CodeJson        Code = "json"
	CodeParseError  Code = "parse_error"
	CodeInvalidJson Code = "invalid_json"
	CodeRegexError  Code = "regex_error"

	// Domain
	CodeOntology        Code = "ontology"
	CodeRbac            Code = "rbac"
	CodeEdgeRouting     Code = "edge_routing"
	CodeEdgeAlreadyExists Code = "edge_already_exists"
	CodeProcess         Code = "process"
	CodeGovernor        Code = "governor"

	// Project / Port
	CodeProjectError            Code = "project_error"
	CodePortError               Code = "port_error"
	CodePortUnavailable         Code = "port_unavailable"
	CodeProjectAlreadyRegistered Code = "project_already_registered"
	CodeProjectNotFound         Code = "project_not_found"
	CodeKernelNotFound          Code = "kernel_not_found"

	// Build
	CodeBuildError Code = "build_error"

	// Validation / Serialization
	CodeValidationError   Code = "validation_error"
	CodeSerializationError Code = "serialization_error"
)

// Error is the concrete error type returned by every core package.
type Error struct {
	Code    Code
	Ident   string // offending identifier (URN, path, name, ...)
	Message string
	Wrapped error
}

func (e *Error) Error() string {
	if e.Ident == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Message, e.Ident)
}

func (e *Error) Unwrap() error { return e.Wrapped }

// New creates a tagged error with no identifier.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a tagged error carrying the offending identifier, formatting
// the message the way fmt.Sprintf does.
func Newf(code Code, ident, format string, args ...interface{}) *Error {
	return &Error{Code: code, Ident: ident, Message: fmt.Sprintf(format, args...)}
}

// Wrap tags an underlying error without discarding it (Unwrap still works).
func Wrap(code Code, ident string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Ident: ident, Message: err.Error(), Wrapped: err}
}

// Is reports whether err is a *Error with the given code.
func Is(err error, code Code) bool {
	var e *Error
	if ce, ok := err.(*Error); ok {
		e = ce
	} else {
		return false
	}
	return e.Code == code
}
