package main

import (
	cmd "github.com/getzep/clipserve/cmd/clipserve"
	"github.com/getzep/clipserve/internal"
)

var log = internal.GetLogger()

func main() {
	log.Info("Starting clipserve")
	cmd.Execute()
}
