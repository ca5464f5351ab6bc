package main

import (
	"os"

	"github.com/miya-dang/InkTranslator/internal/app"
)

func main() {
	os.Exit(app.Run(os.Args[1:]))
}
