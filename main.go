package main

import "live-auction/cmd"

func main() {
	cmd.Execute()
}
