// Package binder decodes HTTP request bodies into typed request structs for
// the handler package.
//
//	type ConvertRequest struct {
//	    TenantID string `json:"tenantId"`
//	}
//
//	h := handler.Wrap(convert, handler.WithBinder[ConvertRequest](binder.JSON()))
//
// JSON enforces an application/json content type, a body size limit and
// strict decoding (unknown fields are rejected). String fields are trimmed.
// All failures wrap one of the sentinel errors in errors.go so callers can
// map them to 4xx responses.
package binder
