// Package routerdb holds all the migrations for the router database
package routerdb

import (
	"github.com/uptrace/bun/migrate"
)

// Migrations is the collection of all migrations for the router database
var Migrations = migrate.NewMigrations()
