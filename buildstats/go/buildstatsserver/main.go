// The buildstatsserver binary serves the build metrics API and runs the
// ingestion workers.
package main

import (
	"os"

	"go.buildstats.org/infra/buildstats/go/buildstatsserver/cmd"
	"go.buildstats.org/infra/go/sklog"
)

func main() {
	if err := cmd.Execute(); err != nil {
		sklog.Flush()
		os.Exit(1)
	}
}
