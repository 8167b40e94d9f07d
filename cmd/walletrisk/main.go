// walletrisk command line client
package main

import (
	"os"

	"github.com/mbd888/walletrisk/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
