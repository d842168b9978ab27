package main

import "SliceFM/cmd"

func main() {
	cmd.Execute()
}
