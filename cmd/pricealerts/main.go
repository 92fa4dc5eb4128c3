package main

import "price-alerts/internal/cli"

func main() {
	cli.Execute()
}
