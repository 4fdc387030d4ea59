package main

import "github.com/marshallshelly/pebble-integrity/cmd/pebble/commands"

func main() {
	commands.Execute()
}
