package main

import "github.com/ztkent/luxmeter/internal/cmd"

/*
	Entry point for the luxmeter CLI.
	On a Raspberry Pi with the TSL2591 connected, run `luxmeter serve` at startup,
	or `luxmeter read` from a timer for one-shot uploads.
*/

func main() {
	cmd.Execute()
}
