package main

import "lending-rate-alerts/internal/cli"

func main() {
	cli.Execute()
}
