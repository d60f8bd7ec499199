package main

import (
	"os"

	"github.com/wesleyorama2/vuload/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
