package main

import "github.com/aceteam-ai/resque/cmd"

func main() {
	cmd.Execute()
}
