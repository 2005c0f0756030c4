package main

import (
	"github.com/steadyq-io/steadyq/cmd"
)

func main() {
	cmd.Execute()
}
