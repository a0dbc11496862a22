package main

import "vault-sentinel/internal/cli"

func main() {
	cli.Execute()
}
