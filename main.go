package main

import "github.com/presenceapp/presence/cmd"

func main() {
	cmd.Execute()
}
