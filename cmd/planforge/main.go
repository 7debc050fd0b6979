package main

import "github.com/marcus/planforge/cmd/planforge/commands"

func main() {
	commands.Execute()
}
