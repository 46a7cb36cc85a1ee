// The main package for the crawler executable.
package main

import (
	"github.com/dailyfin/crawler/cmd"
)

func main() {
	cmd.Execute()
}
