package graphstore

import (
	"go.uber.org/fx"
)

// Module provides the graph Store to the fx app.
var Module = fx.Module("graphstore",
	fx.Provide(New),
)
