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
		log.Println("creating transfers table...")
		if err := mghelper.CreateSchema(ctx, db, &dao.TransferDao{}); err != nil {
			return err
		}
		return mghelper.CreateModelIndexes(ctx, db, &dao.TransferDao{}, "account", "status")
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping transfers table...")
		return mghelper.DropTables(ctx, db, &dao.TransferDao{})
	})
}
