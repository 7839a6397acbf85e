package main

import "netfixture/cmd/fixture-probe/command"

func main() {
	command.Execute()
}
