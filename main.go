// Command ccextract extracts page text from Common Crawl archives.
package main

import (
	"os"

	"github.com/JakeFAU/ccextract/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
