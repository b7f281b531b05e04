package main

import "github.com/CristiGvl/picoTelemetry/cli"

func main() {
	cli.Execute()
}
