package main

import (
	"os"

	"minuteflow/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
