package main

import (
	"fmt"
	"log"

	"token-gate.backend/pkg/crypto"
)

// Prints a fresh 32-byte session secret in the hex form SESSION_SECRET
// expects.
func main() {
	secret, err := crypto.GenerateRandomToken(32)
	if err != nil {
		log.Fatalf("failed to generate session secret: %v", err)
	}
	fmt.Println(secret)
}
