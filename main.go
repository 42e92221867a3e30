package main

import "devstatus/internal/app"

func main() {
	app.Main()
}
