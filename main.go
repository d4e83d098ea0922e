package main

import "github.com/bz888/studyhelper/cmd"

func main() {
	cmd.Execute()
}
