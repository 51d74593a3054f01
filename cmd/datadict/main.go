// datadict catalogs SNL data dictionaries and bundles selected files.
//
// Commands:
//   - build: walk the content root and publish manifest.json
//   - serve: HTTP catalog, file downloads, bundles and change events
//   - bundle: client-side bundle download
//   - inspect, diff: manifest tooling
package main

import (
	"context"
	"os"

	"github.com/AbdurrudbA/snl-data-dictionaries/internal/cli"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := cli.Execute(context.Background(), version); err != nil {
		os.Exit(1)
	}
}
