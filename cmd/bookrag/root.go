package main

import (
	"github.com/spf13/cobra"
)

func main() {
	var root = &cobra.Command{Use: "bookrag"}

	root.AddCommand(serveCMD(), ingestCMD(), migrateCMD())
	_ = root.Execute()
}
