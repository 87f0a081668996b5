package catalog

import (
	"go.uber.org/fx"
)

var Module = fx.Module("catalog.module",
	fx.Provide(
		NewService,
	),
)

var API = fx.Module("catalog.api",
	Module,
	fx.Provide(NewHandler),
	fx.Invoke(RegisterRoutes),
)
