// Package main is the swarmloc command itself.
package main

import (
	"log"
	"os"

	"github.com/dronefleet/swarmloc/cli"
)

func main() {
	app := cli.NewApp(os.Stdout, os.Stderr)
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
