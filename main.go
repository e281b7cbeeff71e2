package main

import (
	"github.com/Nallieheai/clanwarden/cmd"
)

func main() {
	cmd.Execute()
}
