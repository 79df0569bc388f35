// shmctl is the operator console for self-healing map patches.
package main

import (
	"os"

	"github.com/gobeyondidentity/shm/cmd/shmctl/cmd"
	"github.com/gobeyondidentity/shm/pkg/clierror"
)

func main() {
	if err := cmd.Execute(); err != nil {
		ce := clierror.FromError(err)
		clierror.PrintError(ce, cmd.OutputFormat())
		os.Exit(ce.ExitCode)
	}
}
