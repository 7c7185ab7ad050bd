// The main package for the sitesearch executable.
package main

import (
	"github.com/JakeFAU/sitesearch-indexer/cmd"
)

func main() {
	cmd.Execute()
}
