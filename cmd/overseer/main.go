package main

import "github.com/overseer-cli/overseer/internal/cmd"

func main() {
	cmd.Execute()
}
