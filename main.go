package main

import (
	"log"

	"ticket-verifier/cmd"
)

func main() {
	if err := cmd.Start(); err != nil {
		log.Fatal(err)
	}
}
