package main

import "scantool/cmd"

func main() {
	cmd.Execute()
}
