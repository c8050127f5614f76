package main

import "github.com/agentic-research/intentfs/cmd"

func main() {
	cmd.Execute()
}
