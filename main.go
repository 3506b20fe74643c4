package main

import "github.com/agentic-research/wikigraph/cmd"

func main() {
	cmd.Execute()
}
