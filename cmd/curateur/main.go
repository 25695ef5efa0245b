package main

import "github.com/jbruns/curateur-sub000/internal/cli"

func main() {
	cli.Execute()
}
