package main

import "github.com/jnesss/ttrace/cmd"

func main() {
	cmd.Execute()
}
