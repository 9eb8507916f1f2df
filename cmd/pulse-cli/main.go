package main

import "github.com/nfrund/pulse/cmd/pulse-cli/cmd"

func main() {
	cmd.Execute()
}
