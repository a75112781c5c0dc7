package main

import "playground/cmd/playground/commands"

func main() {
	commands.Execute()
}
