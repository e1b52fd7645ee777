package orchestrator

import (
	"go.uber.org/fx"
)

// Module provides the Orchestrator to the fx app.
var Module = fx.Module("orchestrator",
	fx.Provide(New),
)
