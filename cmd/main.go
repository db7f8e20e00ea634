// Package main provides the entry point for the orchestrator CLI.
package main

func main() {
	Execute()
}
