// Command archiver folds old orders into per-week totals and purges them.
//
// By default it runs every ORDERS_ARCHIVE_INTERVAL and serves /livez and
// /readyz. With ORDERS_ARCHIVE_ONCE=true it performs one run and exits,
// which suits cron-style schedulers.
package main

import (
	"context"

	"github.com/go-faster/sdk/app"
	"go.uber.org/zap"

	appkg "github.com/xenking/orderkeeper/internal/app"
)

func main() {
	app.Run(func(ctx context.Context, lg *zap.Logger, m *app.Telemetry) error {
		cfg, err := appkg.LoadConfig()
		if err != nil {
			return err
		}
		return appkg.RunArchiver(ctx, lg, m, cfg)
	})
}
