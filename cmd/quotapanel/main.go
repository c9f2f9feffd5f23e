package main

import (
	"os"

	"github.com/quotapanel/quotapanel/internal/cli"
)

func main() {
	cli.InitRoot()
	os.Exit(cli.Execute(os.Args[1:]))
}
