// Package handler provides type-safe JSON HTTP handlers.
//
// A HandlerFunc receives a Context and a decoded request value and returns a
// Response. Wrap turns it into an http.HandlerFunc, running the configured
// binders first and sending binding or rendering failures to an
// ErrorHandler:
//
//	type ConvertRequest struct {
//		TenantID string `json:"tenantId"`
//	}
//
//	func convert(ctx handler.Context, req ConvertRequest) handler.Response {
//		if req.TenantID == "" {
//			return handler.JSONError(handler.NewValidationError().Add("tenantId", "required"))
//		}
//		return handler.JSON(result)
//	}
//
//	r.Post("/convert", handler.Wrap(convert, handler.WithBinder[ConvertRequest](binder.JSON())))
//
// JSON wraps values in the {data, meta, error} envelope; JSONBody writes a
// value as is for endpoints whose body shape is fixed by a third party.
// HTTPError and ValidationError carry status codes through error values.
package handler
