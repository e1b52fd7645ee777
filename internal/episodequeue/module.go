package episodequeue

import (
	"context"

	"go.uber.org/fx"
)

// Module provides the Queue and wires its scheduler loop to the fx
// lifecycle.
var Module = fx.Module("episodequeue",
	fx.Provide(New),
	fx.Invoke(registerLifecycle),
)

func registerLifecycle(lc fx.Lifecycle, q *Queue) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			q.Start(context.Background())
			return nil
		},
		OnStop: func(ctx context.Context) error {
			q.Stop()
			return nil
		},
	})
}
