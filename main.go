package main

import "github.com/kebairia/cloudbackup/cmd"

func main() {
	cmd.Execute()
}
