// accessctl - operator diagnostics for Gray Logic Access
//
// accessctl talks to devices directly using the service's configuration and
// database, so it works while the service is stopped. It covers the three
// things field engineers ask for most:
//   - raw: send one authenticated request to a device web API
//   - sync: push a credential to every device that should hold it
//   - image: download an enrolment or event picture
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
