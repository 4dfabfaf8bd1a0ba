package main

import (
	"os"

	"github.com/leonaii/kirocloud/internal/cli"
)

func main() {
	cli.InitCLI()
	os.Exit(cli.ExecuteWithErrorCode(os.Args[1:]))
}
