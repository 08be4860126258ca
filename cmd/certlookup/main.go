package main

import (
	"context"
	"os"

	"github.com/JakeFAU/certlookup/internal/cli"
)

func main() {
	os.Exit(cli.Execute(context.Background()))
}
