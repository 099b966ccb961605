package main

import (
	"fmt"
	"os"

	"github.com/sparsevcs/mirror/internal/env"
)

func main() {
	root := newRootCmd(env.NewFromOs())
	if err := root.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
