package main

import (
	"fmt"
	"os"

	"bountybot/services/bountyd"
)

func main() {
	if err := bountyd.Main(); err != nil {
		fmt.Fprintf(os.Stderr, "bountyd: %v\n", err)
		os.Exit(1)
	}
}
