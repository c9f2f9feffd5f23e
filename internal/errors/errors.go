package errors

import "fmt"

// Config errors

type ErrConfigNotFound struct {
	Path string
}

func (e *ErrConfigNotFound) Error() string {
	return fmt.Sprintf("config file not found: %s", e.Path)
}

type ErrConfigParse struct {
	Err error
}

func (e *ErrConfigParse) Error() string {
	return fmt.Sprintf("failed to parse YAML: %v", e.Err)
}

func (e *ErrConfigParse) Unwrap() error {
	return e.Err
}

type ErrConfigValidation struct {
	Err error
}

func (e *ErrConfigValidation) Error() string {
	return fmt.Sprintf("config validation failed: %v", e.Err)
}

func (e *ErrConfigValidation) Unwrap() error {
	return e.Err
}

// Credential store errors

type ErrDirectoryCreate struct {
	Path string
	Err  error
}

func (e *ErrDirectoryCreate) Error() string {
	return fmt.Sprintf("failed to create directory %s: %v", e.Path, e.Err)
}

func (e *ErrDirectoryCreate) Unwrap() error {
	return e.Err
}

type ErrFileRead struct {
	Path string
	Err  error
}

func (e *ErrFileRead) Error() string {
	return fmt.Sprintf("failed to read file %s: %v", e.Path, e.Err)
}

func (e *ErrFileRead) Unwrap() error {
	return e.Err
}

type ErrCredentialParse struct {
	Path string
	Err  error
}

func (e *ErrCredentialParse) Error() string {
	return fmt.Sprintf("failed to parse credential %s: %v", e.Path, e.Err)
}

func (e *ErrCredentialParse) Unwrap() error {
	return e.Err
}

type ErrAccountNotFound struct {
	Email string
}

func (e *ErrAccountNotFound) Error() string {
	return fmt.Sprintf("account not found: %s", e.Email)
}

// Token errors

type ErrTokenRefresh struct {
	Status int
	Body   string
}

func (e *ErrTokenRefresh) Error() string {
	return fmt.Sprintf("token refresh failed: %d - %s", e.Status, e.Body)
}

// Transport errors

type ErrProxyConnect struct {
	Status int
}

func (e *ErrProxyConnect) Error() string {
	return fmt.Sprintf("proxy CONNECT failed: %d", e.Status)
}

type ErrProxyHandshake struct {
	Kind string
	Err  error
}

func (e *ErrProxyHandshake) Error() string {
	return fmt.Sprintf("%s proxy handshake failed: %v", e.Kind, e.Err)
}

func (e *ErrProxyHandshake) Unwrap() error {
	return e.Err
}

type ErrProxyURL struct {
	URL string
	Err error
}

func (e *ErrProxyURL) Error() string {
	return fmt.Sprintf("malformed proxy URL %s: %v", e.URL, e.Err)
}

func (e *ErrProxyURL) Unwrap() error {
	return e.Err
}

// Quota errors

type ErrAllEndpointsFailed struct {
	Last error
}

func (e *ErrAllEndpointsFailed) Error() string {
	if e.Last != nil {
		return fmt.Sprintf("all quota endpoints failed: %v", e.Last)
	}
	return "all quota endpoints failed"
}

func (e *ErrAllEndpointsFailed) Unwrap() error {
	return e.Last
}

type ErrQuotaParse struct {
	Endpoint string
	Err      error
}

func (e *ErrQuotaParse) Error() string {
	return fmt.Sprintf("failed to parse quota response from %s: %v", e.Endpoint, e.Err)
}

func (e *ErrQuotaParse) Unwrap() error {
	return e.Err
}

// Server errors

type ErrServerStart struct {
	Addr string
	Err  error
}

func (e *ErrServerStart) Error() string {
	return fmt.Sprintf("failed to start server on %s: %v", e.Addr, e.Err)
}

func (e *ErrServerStart) Unwrap() error {
	return e.Err
}

type ErrServerShutdown struct {
	Err error
}

func (e *ErrServerShutdown) Error() string {
	return fmt.Sprintf("server shutdown failed: %v", e.Err)
}

func (e *ErrServerShutdown) Unwrap() error {
	return e.Err
}

// Database errors

type ErrDatabaseOpen struct {
	Path string
	Err  error
}

func (e *ErrDatabaseOpen) Error() string {
	return fmt.Sprintf("failed to open database %s: %v", e.Path, e.Err)
}

func (e *ErrDatabaseOpen) Unwrap() error {
	return e.Err
}
