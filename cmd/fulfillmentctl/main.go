package main

import (
	"fmt"
	"os"

	"github.com/shopsite/fulfillment/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fulfillmentctl:", err)
		os.Exit(1)
	}
}
