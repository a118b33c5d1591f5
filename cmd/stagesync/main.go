package main

import "github.com/simbafs/stagesync/internal/cli"

func main() {
	cli.Execute()
}
