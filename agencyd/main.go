// Command agencyd runs an agency process.
package main

import "github.com/sarchlab/agency/agencyd/cmd"

func main() {
	cmd.Execute()
}
