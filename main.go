package main

import "github.com/danzoengine/danzoengine/cmd"

func main() {
	cmd.Execute()
}
