// Package httputil provides HTTP handler utilities for consistent error handling,
// JSON encoding/decoding, and request parsing.
package httputil

import (
	"encoding/json"
	"net/http"
)

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteErrorMessage writes a JSON error response with a custom message
func WriteErrorMessage(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// Generic error bodies. Protocol- and crypto-level failures must never
// surface internal detail to the browser; precise causes go to the server
// log only. Every externally visible failure is one of these two.
const (
	genericBadRequestMessage = "authentication request could not be processed"
	genericServerMessage     = "authentication service error"
)

// WriteGenericBadRequest writes the generic 400 body used for malformed or
// invalid SAML payloads.
func WriteGenericBadRequest(w http.ResponseWriter) {
	WriteErrorMessage(w, http.StatusBadRequest, genericBadRequestMessage)
}

// WriteGenericServerError writes the generic 500 body used for configuration
// and upstream (store/KMS) failures.
func WriteGenericServerError(w http.ResponseWriter) {
	WriteErrorMessage(w, http.StatusInternalServerError, genericServerMessage)
}

// WriteBadRequest writes a bad request error (400)
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusBadRequest, message)
}

// WriteUnauthorized writes an unauthorized error (401)
func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusUnauthorized, message)
}

// WriteForbidden writes a forbidden error (403)
func WriteForbidden(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusForbidden, message)
}

// WriteMethodNotAllowed writes a method not allowed error (405)
func WriteMethodNotAllowed(w http.ResponseWriter) {
	WriteErrorMessage(w, http.StatusMethodNotAllowed, "method not allowed")
}

// WriteSuccess writes a successful response (200 OK) with JSON data
func WriteSuccess(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}
