package app

import (
	"go.uber.org/fx"

	"github.com/Additional-Code/bono/internal/auth"
	"github.com/Additional-Code/bono/internal/cache"
	"github.com/Additional-Code/bono/internal/config"
	"github.com/Additional-Code/bono/internal/database"
	"github.com/Additional-Code/bono/internal/logger"
	"github.com/Additional-Code/bono/internal/messaging"
	"github.com/Additional-Code/bono/internal/observability"
	"github.com/Additional-Code/bono/internal/realtime"
	repositorycatalog "github.com/Additional-Code/bono/internal/repository/catalog"
	repositoryorder "github.com/Additional-Code/bono/internal/repository/order"
	repositoryuser "github.com/Additional-Code/bono/internal/repository/user"
	grpcserver "github.com/Additional-Code/bono/internal/server/grpc"
	httpserver "github.com/Additional-Code/bono/internal/server/http"
	serviceorder "github.com/Additional-Code/bono/internal/service/order"
	transporthttp "github.com/Additional-Code/bono/internal/transport/http"
	"github.com/Additional-Code/bono/internal/worker"
	workerorder "github.com/Additional-Code/bono/internal/worker/order"
)

// Base is configuration and logging only.
var Base = fx.Options(
	config.Module,
	logger.Module,
)

// Core provides the foundational modules shared across executables.
var Core = fx.Options(
	Base,
	cache.Module,
	database.Module,
	messaging.Module,
	observability.Module,
	realtime.Module,
	repositorycatalog.Module,
	repositoryorder.Module,
	repositoryuser.Module,
	auth.Module,
	serviceorder.Module,
)

// HTTP wires the HTTP and gRPC servers on top of the core modules.
var HTTP = fx.Options(
	Core,
	httpserver.Module,
	grpcserver.Module,
	transporthttp.Module,
)

// Worker exposes background worker processing.
var Worker = fx.Options(
	Core,
	worker.Module,
	workerorder.Module,
)

// Module is the default application wiring (HTTP only).
var Module = HTTP
