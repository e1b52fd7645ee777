package mutation

import (
	"go.uber.org/fx"
)

// Module provides the mutation Service to the fx app.
var Module = fx.Module("mutation",
	fx.Provide(New),
)
