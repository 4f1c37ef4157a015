package main

import "p2pmsg/cmd/p2pmsg/command"

func main() {
	command.Execute()
}
