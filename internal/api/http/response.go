package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/render"
	"github.com/jekabolt/sales-rollup/internal/commerce/shopify"
	"github.com/jekabolt/sales-rollup/internal/entity"
	"github.com/jekabolt/sales-rollup/internal/rollup"
	"github.com/jekabolt/sales-rollup/internal/window"
)

type ErrResponse struct {
	Err            error `json:"-"` // low-level runtime error
	HTTPStatusCode int   `json:"-"` // http response status code

	StatusText string `json:"status"`          // user-level status message
	ErrorText  string `json:"error,omitempty"` // application-level error message, for debugging
}

func (e *ErrResponse) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.HTTPStatusCode)
	return nil
}

func newErrResponse(status int, err error) *ErrResponse {
	return &ErrResponse{
		Err:            err,
		HTTPStatusCode: status,
		StatusText:     http.StatusText(status),
		ErrorText:      err.Error(),
	}
}

// ErrFromError maps a service error to its http status.
func ErrFromError(err error) *ErrResponse {
	var rangeErr *window.InvalidRangeError
	var windowErr *rollup.WindowError
	var statusErr *shopify.StatusError
	var malformedErr *shopify.MalformedResponseError
	switch {
	case errors.Is(err, window.ErrInvalidDate),
		errors.As(err, &rangeErr),
		errors.Is(err, rollup.ErrRangeTooLarge):
		return newErrResponse(http.StatusBadRequest, err)
	case errors.Is(err, entity.ErrAccountNotFound):
		return newErrResponse(http.StatusNotFound, err)
	case errors.Is(err, context.DeadlineExceeded):
		return newErrResponse(http.StatusGatewayTimeout, err)
	case errors.As(err, &windowErr),
		errors.As(err, &statusErr),
		errors.As(err, &malformedErr):
		return newErrResponse(http.StatusBadGateway, err)
	default:
		return newErrResponse(http.StatusInternalServerError, err)
	}
}

type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database,omitempty"`
}

type AccountResponse struct {
	Id         string `json:"id"`
	ShopDomain string `json:"shopDomain"`
	Timezone   string `json:"timezone,omitempty"`
}
