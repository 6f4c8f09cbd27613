package main

import "github.com/studyforge/gateway/internal/cli"

func main() {
	cli.Execute()
}
