package main

import "StemMixer/cmd"

func main() {
	cmd.Execute()
}
