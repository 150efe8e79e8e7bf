package main

import "github.com/mhristof/upgrader/cmd"

func main() {
	cmd.Execute()
}
