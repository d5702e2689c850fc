package main

import "github.com/curaflow/appcore/cmd/curactl/cmd"

func main() {
	cmd.Execute()
}
