package main

import (
	"context"
	"os"

	"github.com/okian/huntline/internal/drill"
)

func main() {
	if err := drill.NewRootCommand().ExecuteContext(context.Background()); err != nil {
		os.Stderr.WriteString("drill failed: " + err.Error() + "\n")
		os.Exit(1)
	}
}
