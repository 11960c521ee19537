package main

import (
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/tebben/geoclimate/cmd"
	"github.com/tebben/geoclimate/errors"
)

func main() {
	if err := cmd.Execute(); err != nil {
		if errors.IsPrecondition(err) {
			log.Errorf("Invalid input: %v", err)
			os.Exit(2)
		}
		log.Fatalf("%v", err)
	}
}
