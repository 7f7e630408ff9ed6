// Package main is the entry point for clipfetch.
package main

import "clipfetch/internal/cli"

func main() {
	cli.Execute()
}
