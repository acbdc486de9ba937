package main

import "github.com/zjrosen/timeline/cmd"

func main() {
	cmd.Execute()
}
