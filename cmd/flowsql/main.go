// Package main is the flowsql binary: the workflow compilation and
// query-serving engine behind the canvas editor.
package main

import (
	"os"

	"github.com/flowstack-labs/flowsql/internal/cli"

	// Register store drivers.
	_ "github.com/flowstack-labs/flowsql/pkg/stores/duckdb"
	_ "github.com/flowstack-labs/flowsql/pkg/stores/natskv"
	_ "github.com/flowstack-labs/flowsql/pkg/stores/postgres"
	_ "github.com/flowstack-labs/flowsql/pkg/stores/sqlite"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
