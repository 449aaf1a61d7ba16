// Package main is the ipmatch command itself.
package main

import (
	"log"
	"os"

	"go.viam.com/ipmatch/cli"
)

func main() {
	if err := cli.NewApp(os.Stdout).Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
