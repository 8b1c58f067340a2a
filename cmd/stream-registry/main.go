// Package main — точка входа stream-registry-service (HTTP + NATS broker).
package main

import (
	"log"

	"github.com/psds-microservice/stream-registry-service/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
