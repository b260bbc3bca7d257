package main

import (
	"fmt"
	"os"

	"github.com/ayo6706/ledger-transfer/internal/app"
)

func main() {
	if err := app.RunTransfer(); err != nil {
		fmt.Fprintf(os.Stderr, "transfer-api error: %v\n", err)
		os.Exit(1)
	}
}
