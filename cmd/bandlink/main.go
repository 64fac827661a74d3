package main

import (
	"github.com/livelyrics/bandlink/internal/cmd"
)

func main() {
	cmd.Execute()
}
