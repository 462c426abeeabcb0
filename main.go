package main

import "github.com/pickandplay/guitar-api/cmd"

func main() {
	cmd.Execute()
}
