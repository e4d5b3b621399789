package main

import "github.com/ValentinKolb/dMem/cmd"

func main() {
	cmd.Execute()
}
