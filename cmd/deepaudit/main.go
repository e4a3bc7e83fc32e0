package main

import (
	"os"

	"github.com/Asout3/audit-agent/internal/app"
)

func main() {
	if err := app.BuildRoot().Execute(); err != nil {
		os.Exit(1)
	}
}
