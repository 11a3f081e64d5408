package main

import "github.com/medofficehq/chargerules/cmd"

func main() {
	cmd.Execute()
}
