// Command lazysquash exposes a remote SquashFS archive as a lazily
// materialized local filesystem (spec §1), mirroring the teacher's own
// example/zipfs driver but against a network-backed archive instead of
// a local one.
package main

import (
	"os"

	"github.com/lazysquash/lazysquash/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
