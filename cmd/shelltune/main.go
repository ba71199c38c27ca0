package main

import "github.com/shelltune/shelltune"

func main() {
	shelltune.Execute()
}
