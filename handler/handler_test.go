package handler_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/competitorwatch/handler"
	"github.com/dmitrymomot/competitorwatch/pkg/binder"
	"github.com/dmitrymomot/competitorwatch/pkg/logger"
)

type convertRequest struct {
	TenantID string `json:"tenantId"`
	PriceID  string `json:"priceId"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) handler.JSONResponse {
	t.Helper()
	var resp handler.JSONResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestWrap(t *testing.T) {
	t.Parallel()

	t.Run("binds request and renders response", func(t *testing.T) {
		t.Parallel()

		h := handler.Wrap(func(ctx handler.Context, req convertRequest) handler.Response {
			return handler.JSON(map[string]string{"tenant": req.TenantID, "price": req.PriceID})
		}, handler.WithBinder[convertRequest](binder.JSON()))

		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"tenantId":" t1 ","priceId":"price_pro"}`))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		h(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		resp := decode(t, rec)
		assert.Nil(t, resp.Error)
		assert.Equal(t, map[string]any{"tenant": "t1", "price": "price_pro"}, resp.Data)
	})

	t.Run("binder failure is a bad request", func(t *testing.T) {
		t.Parallel()

		called := false
		h := handler.Wrap(func(ctx handler.Context, req convertRequest) handler.Response {
			called = true
			return handler.JSON(nil)
		}, handler.WithBinder[convertRequest](binder.JSON()))

		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"tenantId":`))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		h(rec, req)

		assert.False(t, called)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		resp := decode(t, rec)
		require.NotNil(t, resp.Error)
		assert.Equal(t, "bad_request", resp.Error.Code)
	})

	t.Run("nil response", func(t *testing.T) {
		t.Parallel()

		var got error
		h := handler.Wrap(func(ctx handler.Context, req struct{}) handler.Response {
			return nil
		}, handler.WithErrorHandler[struct{}](func(ctx handler.Context, err error) {
			got = err
			ctx.ResponseWriter().WriteHeader(http.StatusTeapot)
		}))

		rec := httptest.NewRecorder()
		h(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.ErrorIs(t, got, handler.ErrNilResponse)
		assert.Equal(t, http.StatusTeapot, rec.Code)
	})

	t.Run("decorators run outermost first", func(t *testing.T) {
		t.Parallel()

		var order []string
		mark := func(name string) handler.Decorator[struct{}] {
			return func(next handler.HandlerFunc[struct{}]) handler.HandlerFunc[struct{}] {
				return func(ctx handler.Context, req struct{}) handler.Response {
					order = append(order, name)
					return next(ctx, req)
				}
			}
		}

		h := handler.Wrap(func(ctx handler.Context, req struct{}) handler.Response {
			order = append(order, "handler")
			return handler.JSONBody(map[string]bool{"ok": true})
		}, handler.WithDecorators(mark("first"), mark("second")))

		rec := httptest.NewRecorder()
		h(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Equal(t, []string{"first", "second", "handler"}, order)
		assert.JSONEq(t, `{"ok":true}`, rec.Body.String())
	})

	t.Run("context exposes request values", func(t *testing.T) {
		t.Parallel()

		h := handler.Wrap(func(ctx handler.Context, req struct{}) handler.Response {
			assert.Equal(t, "/path", ctx.Request().URL.Path)
			assert.NoError(t, ctx.Err())
			return handler.JSONBody("ok")
		})

		rec := httptest.NewRecorder()
		h(rec, httptest.NewRequest(http.MethodGet, "/path", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestNewErrorHandler(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := logger.New(logger.WithFormat(logger.FormatJSON), logger.WithOutput(&buf))

	h := handler.Wrap(func(ctx handler.Context, req struct{}) handler.Response {
		return handler.JSONError(errors.New("db is down"))
	}, handler.WithErrorHandler[struct{}](handler.NewErrorHandler(log)))

	// The handler itself returns an error response; the error handler only
	// sees binder and render failures.
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Empty(t, buf.String())

	h = handler.Wrap(func(ctx handler.Context, req struct{}) handler.Response {
		return nil
	}, handler.WithErrorHandler[struct{}](handler.NewErrorHandler(log)))

	rec = httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, buf.String(), "request error")
	assert.Contains(t, buf.String(), handler.ErrNilResponse.Error())
}
