package main

import "github.com/screenslate/screenslate/cmd"

func main() {
	cmd.Execute()
}
