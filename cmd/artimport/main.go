package main

import (
	"github.com/JakeFAU/artsearch-ingest/cmd"
)

func main() {
	cmd.Execute()
}
