package main

import "github.com/pliu/huddle/cmd"

func main() {
	cmd.Execute()
}
