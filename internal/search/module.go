package search

import (
	"go.uber.org/fx"
)

// Module provides the search Engine to the fx app.
var Module = fx.Module("search",
	fx.Provide(New),
)
