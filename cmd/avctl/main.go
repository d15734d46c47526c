package main

import "github.com/tessro/avctl/internal/cli"

func main() {
	cli.Execute()
}
