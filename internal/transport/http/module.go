package http

import (
	"go.uber.org/fx"

	eventstransport "github.com/Additional-Code/bono/internal/transport/http/events"
	ordertransport "github.com/Additional-Code/bono/internal/transport/http/order"
)

// Module aggregates all HTTP transport handlers.
var Module = fx.Options(
	ordertransport.Module,
	eventstransport.Module,
)
