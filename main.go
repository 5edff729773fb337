package main

import "github.com/fakeyudi/tripsync/cmd"

func main() {
	cmd.Execute()
}
