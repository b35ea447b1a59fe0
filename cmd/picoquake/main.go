package main

import "github.com/PLab-SI/PicoQuake/internal/cmd"

func main() {
	cmd.Execute()
}
