package main

import (
	"pesowatch/internal/cli"
)

func main() {
	cli.Execute()
}
