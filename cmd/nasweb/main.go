package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"nas-web/internal/media"
)

func main() {
	cmd := newRootCommand()
	err := cmd.ExecuteContext(context.Background())
	media.ShutdownVips()
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
