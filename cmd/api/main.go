package main

import "github.com/convertscout/awesome-ai-prompts-sub000/internal/cli"

func main() {
	cli.Execute()
}
