// Package ddl holds SQL statements that create or upgrade the persisted
// configuration tables for Metron.
package ddl

import _ "embed"

//go:embed "store.sql"
var DDL string
