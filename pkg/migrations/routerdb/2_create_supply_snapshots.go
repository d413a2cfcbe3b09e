package routerdb

import (
	"context"
	"log"

	"github.com/uptrace/bun"

	"github.com/chainsafe/bridge-router/pkg/db/dao"
	mghelper "github.com/chainsafe/bridge-router/pkg/pgutil/migrations"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		log.Println("creating supply_snapshots table...")
		return mghelper.CreateSchema(ctx, db, &dao.SupplySnapshotDao{})
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping supply_snapshots table...")
		return mghelper.DropTables(ctx, db, &dao.SupplySnapshotDao{})
	})
}
