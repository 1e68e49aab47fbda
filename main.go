// The main package for the doggo executable.
package main

import (
	"github.com/doggo-watch/doggo/cmd"
)

func main() {
	cmd.Execute()
}
