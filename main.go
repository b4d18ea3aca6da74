package main

import "github.com/dave/jobwiz/cmd"

func main() {
	cmd.Execute()
}
