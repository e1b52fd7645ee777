package resolver

import (
	"go.uber.org/fx"
)

// Module provides the Resolver to the fx app.
var Module = fx.Module("resolver",
	fx.Provide(New),
)
