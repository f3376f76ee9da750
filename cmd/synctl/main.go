package main

import "possync/cmd/synctl/cmd"

func main() {
	cmd.Execute()
}
