package main

import (
	"os"

	cmd "github.com/kerbaras/mangadl/cmd/mangadl"
)

func main() {
	os.Exit(cmd.Execute())
}
