// Package migrations holds the versioned SQL applied to each tenant schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
