package main

import "github.com/nextlevelbuilder/aide/cmd"

func main() {
	cmd.Execute()
}
