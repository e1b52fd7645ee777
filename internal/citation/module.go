package citation

import (
	"go.uber.org/fx"
)

// Module provides the citation Service to the fx app.
var Module = fx.Module("citation",
	fx.Provide(New),
)
