// Command creditledger runs the credit ledger HTTP API and offers
// administrative commands against the configured store.
package main

import (
	"context"
	"os"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
