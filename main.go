package main

import "github.com/michalnik/bulk-sync/cmd"

func main() {
	cmd.Execute()
}
