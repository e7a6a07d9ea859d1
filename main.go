package main

import "github.com/biswajeet0192/locallm/cmd"

func main() {
	cmd.Execute()
}
