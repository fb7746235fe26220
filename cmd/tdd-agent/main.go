package main

import "github.com/tausani-ah-chong/tdd-agent/internal/cli"

func main() {
	cli.Execute()
}
