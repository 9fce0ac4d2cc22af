package main

import (
	"element-indexer/internal/bootstrap"
)

func main() {
	bootstrap.NewApp().Run()
}
