package main

import "bullionwatch/internal/cli"

func main() {
	cli.Execute()
}
