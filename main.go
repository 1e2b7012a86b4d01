package main

import "github.com/ValentinKolb/artdb/cmd"

func main() {
	cmd.Execute()
}
