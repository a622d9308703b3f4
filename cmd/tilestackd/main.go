package main

import "github.com/beetlebugorg/tilestack/internal/app"

func main() {
	app.Run()
}
