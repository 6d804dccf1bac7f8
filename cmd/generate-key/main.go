package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"token-gate.backend/pkg/keypair"
)

// Generates a fresh RSA signing key and writes it as PEM, for bootstrapping
// a deployment.
func main() {
	out := flag.String("out", "", "write the private key to this file instead of stdout")
	kid := flag.String("kid", "gateway-key", "key id to embed in the JWKS document")
	flag.Parse()

	keys, err := keypair.Generate(*kid)
	if err != nil {
		log.Fatalf("failed to generate key: %v", err)
	}

	pem := keys.PrivatePEM()
	if *out == "" {
		fmt.Print(pem)
		return
	}
	if err := os.WriteFile(*out, []byte(pem), 0o600); err != nil {
		log.Fatalf("failed to write %s: %v", *out, err)
	}
	fmt.Printf("wrote private key to %s (kid %s)\n", *out, *kid)
}
