package main

import "github.com/evalsa/sandbox-worker/cmd"

func main() {
	cmd.Execute()
}
