package shift

import (
	"go.uber.org/fx"
)

var Module = fx.Module("shift.module",
	fx.Provide(
		NewRepository,
		NewFastStore,
		NewEventBus,
		NewFinalizer,
		NewManager,
		NewService,
	),
)

var API = fx.Module("shift.api",
	Module,
	fx.Provide(NewHandler),
	fx.Invoke(RegisterRoutes),
)

var Worker = fx.Module("shift.worker",
	Module,
	fx.Provide(
		NewRunner,
		NewScheduler,
	),
	fx.Invoke(StartScheduler),
)
