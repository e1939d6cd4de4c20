package main

import (
	"os"

	"github.com/better-wallet/smart-account/cmd/accountctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
