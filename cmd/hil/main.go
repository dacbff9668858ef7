package main

import "github.com/OpenTraceLab/OpenTraceHIL/cmd/hil/cmd"

func main() {
	cmd.Execute()
}
