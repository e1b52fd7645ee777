package httpapi

import (
	"go.uber.org/fx"
)

// Module provides the Handler to the fx app. Route registration happens in
// internal/server once both the Handler and the Echo instance exist.
var Module = fx.Module("httpapi",
	fx.Provide(New),
)
