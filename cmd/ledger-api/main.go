package main

import (
	"fmt"
	"os"

	"github.com/ayo6706/ledger-transfer/internal/app"
)

func main() {
	if err := app.RunLedger(); err != nil {
		fmt.Fprintf(os.Stderr, "ledger-api error: %v\n", err)
		os.Exit(1)
	}
}
