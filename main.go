package main

import (
	"github.com/sidkik/treemirror/cmd"
	"github.com/sidkik/treemirror/cmd/util"
)

func main() {
	defer util.HandlePanic()
	cmd.Execute()
}
