package main

import "github.com/flux-gate/fluxgate/cmd/fluxgate/cmd"

func main() {
	cmd.Execute()
}
