package main

import "github.com/markdave123-py/docground/internal/cli"

func main() {
	cli.Execute()
}
