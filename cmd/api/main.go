// Command api runs the bono HTTP and gRPC servers without the CLI wrapper.
package main

import (
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/Additional-Code/bono/internal/app"
)

func main() {
	fx.New(
		app.Module,
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
	).Run()
}
