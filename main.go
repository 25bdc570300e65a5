package main

import "github.com/kimnauryz/ai-sarbaz/cmd"

func main() {
	cmd.Execute()
}
