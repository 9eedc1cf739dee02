// Package all registers every storage backend via blank imports. Import it
// from binaries (or tests) that select a backend by configuration.
package all

import (
	_ "queryverse/internal/storage/mssql"
	_ "queryverse/internal/storage/postgres"
	_ "queryverse/internal/storage/sqlite"
)
