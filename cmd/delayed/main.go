// Command delayed runs and administers the delayed job dispatcher.
//
//	delayed serve --store postgres --dsn postgres://localhost/delayed
//	delayed enqueue order-42 EMAIL_CONFIRM --in 1h
//	delayed get job_01h...
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
