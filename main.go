package main

import "github.com/agentic-research/derivata/cmd"

func main() {
	cmd.Execute()
}
