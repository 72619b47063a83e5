package response

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/Additional-Code/bono/pkg/errorbank"
)

// retryAfterSeconds is sent with 503 responses.
const retryAfterSeconds = 2

// Envelope is the JSON body of every API response. Decoders may preset Data
// to a pointer to receive the payload typed.
type Envelope struct {
	Success bool           `json:"success"`
	Data    any            `json:"data,omitempty"`
	Error   *ErrorBody     `json:"error,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

// ErrorBody describes a failed request.
type ErrorBody struct {
	Kind    string         `json:"kind"`
	Code    string         `json:"code,omitempty"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Builder helps construct consistent HTTP responses.
type Builder struct {
	ctx      echo.Context
	status   int
	data     any
	err      error
	meta     map[string]any
	location string
}

// New instantiates a Builder for the provided request context.
func New(ctx echo.Context) *Builder {
	return &Builder{ctx: ctx, status: http.StatusOK}
}

// WithStatus overrides the response status code.
func (b *Builder) WithStatus(status int) *Builder {
	if status > 0 {
		b.status = status
	}
	return b
}

// WithData attaches a success payload.
func (b *Builder) WithData(data any) *Builder {
	b.data = data
	return b
}

// WithError records an error to be rendered.
func (b *Builder) WithError(err error) *Builder {
	b.err = err
	return b
}

// WithMeta appends auxiliary metadata to the response.
func (b *Builder) WithMeta(key string, value any) *Builder {
	if key == "" {
		return b
	}
	if b.meta == nil {
		b.meta = make(map[string]any)
	}
	b.meta[key] = value
	return b
}

// Created marks the response 201 with a Location header pointing at path.
func (b *Builder) Created(path string) *Builder {
	b.status = http.StatusCreated
	b.location = path
	return b
}

// Build finalises and emits the HTTP response.
func (b *Builder) Build() error {
	if b.err != nil {
		return b.buildError()
	}
	return b.buildSuccess()
}

func (b *Builder) buildSuccess() error {
	if b.status == 0 {
		b.status = http.StatusOK
	}
	if b.location != "" {
		b.ctx.Response().Header().Set(echo.HeaderLocation, b.location)
	}
	return b.ctx.JSON(b.status, Envelope{Success: true, Data: b.data, Meta: b.meta})
}

func (b *Builder) buildError() error {
	appErr := errorbank.From(b.err)
	status := b.status
	if status < 400 {
		status = appErr.StatusCode()
	}
	if status == http.StatusServiceUnavailable {
		b.ctx.Response().Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	}

	return b.ctx.JSON(status, Envelope{
		Success: false,
		Error: &ErrorBody{
			Kind:    string(appErr.Kind()),
			Code:    appErr.Code(),
			Message: appErr.Message(),
			Details: appErr.Details(),
		},
		Meta: b.meta,
	})
}
