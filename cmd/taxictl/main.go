// Command taxictl drives the dispatch API from a terminal the way the mobile
// clients do: every change is discovered by polling.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

func init() {
	_ = godotenv.Load()
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
