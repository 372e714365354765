// Package respond provides small helpers for writing JSON API responses.
package respond

import (
	"encoding/json"
	"net/http"
)

type response struct {
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

// JSON writes v with the given status code.
func JSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// OK writes a 200 response wrapping data.
func OK(w http.ResponseWriter, data interface{}) {
	JSON(w, http.StatusOK, response{Data: data})
}

// Created writes a 201 response wrapping data.
func Created(w http.ResponseWriter, data interface{}) {
	JSON(w, http.StatusCreated, response{Data: data})
}

// Fail writes an error response with the given status code.
func Fail(w http.ResponseWriter, code int, err error) {
	JSON(w, code, response{Error: err.Error()})
}
