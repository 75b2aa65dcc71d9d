// The main package for the tablescan executable.
package main

import (
	"github.com/JakeFAU/tablescan/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
