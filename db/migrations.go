// Package db хранит SQL-миграции схемы kv_items, встроенные в бинарь.
package db

import "embed"

//go:embed migrations/*.sql
var Migrations embed.FS

// MigrationsPath - каталог миграций внутри Migrations.
const MigrationsPath = "migrations"
