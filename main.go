// The main package for the archiver executable.
package main

import "github.com/JakeFAU/webarchiver/cmd"

func main() {
	cmd.Execute()
}
