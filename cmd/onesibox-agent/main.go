package main

import (
	"github.com/onesibox/onesibox/cmd/onesibox-agent/app"
)

func main() {
	app.NewApp().Run()
}
