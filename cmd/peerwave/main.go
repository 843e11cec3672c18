package main

import (
	"github.com/peerwave/peerwave/internal/client/cmd"
)

func main() {
	cmd.Execute()
}
