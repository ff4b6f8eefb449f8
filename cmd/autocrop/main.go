package main

import "github.com/Fepozopo/autocrop/pkg/cli"

func main() {
	cli.RunCLI()
}
