// genkeys writes a fresh Ed25519 signing key pair for the evidence ledger.
//
//	go run ./tools/genkeys.go [dir]
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"etlverify/internal/security"
)

func main() {
	dir := "data/keys"
	if len(os.Args) > 1 {
		dir = os.Args[1]
	}

	pubPath := filepath.Join(dir, "signing.pub")
	if _, err := os.Stat(pubPath); err == nil {
		fmt.Fprintf(os.Stderr, "refusing to overwrite %s\n", pubPath)
		os.Exit(1)
	}

	kp, err := security.GenerateKeyPair()
	if err != nil {
		fmt.Fprintf(os.Stderr, "keygen error: %v\n", err)
		os.Exit(2)
	}
	if err := kp.Save(pubPath, filepath.Join(dir, "signing.priv")); err != nil {
		fmt.Fprintf(os.Stderr, "save keys: %v\n", err)
		os.Exit(2)
	}

	fmt.Println("# ======= Ed25519 signing key =======")
	fmt.Println("DIR:        ", dir)
	fmt.Println("PUBLIC_HEX: ", kp.PublicHex())
}
