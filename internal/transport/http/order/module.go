package order

import (
	"github.com/labstack/echo/v4"
	"go.uber.org/fx"

	"github.com/Additional-Code/bono/internal/auth"
	service "github.com/Additional-Code/bono/internal/service/order"
)

// Module wires HTTP order handlers.
var Module = fx.Options(
	fx.Provide(func(svc *service.Service) *Handler {
		return NewHandler(svc)
	}),
	fx.Invoke(func(e *echo.Echo, h *Handler, resolver *auth.Resolver) {
		Register(e, h, auth.Middleware(resolver))
	}),
)
