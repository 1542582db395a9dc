package main

import (
	"fmt"
	"os"

	"github.com/WendelHime/lanshare/internal/app"
)

func main() {
	if err := app.New().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
