// Command drsync is an rsync-compatible client/server and daemon implementation.
package main

import (
	"context"
	"log"
	"os"

	"github.com/deltacopy/rsync/internal/maincmd"
	"github.com/deltacopy/rsync/internal/rsyncos"
)

func main() {
	osenv := &rsyncos.Env{
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
	if _, err := maincmd.Main(context.Background(), osenv, os.Args, nil); err != nil {
		log.Fatal(err)
	}
}
