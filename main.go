// main.go
package main

import (
	"log"

	"temple-safety/cmd"
)

func main() {
	if err := cmd.Start(); err != nil {
		log.Fatal(err)
	}
}
