package main

import (
	"fmt"

	"github.com/ivcap-works/go-eventsource/cmd"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cmd.Execute(fmt.Sprintf("%s|%s|%s", version, commit[:7], date))
}
