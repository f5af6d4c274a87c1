// Command sign-order is a developer walkthrough: it generates a keypair,
// builds an app order, signs it under the marketplace domain and prints the
// JSON body ready for submission to the gateway.
package main

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"

	"github.com/taskgrid/taskgrid/params"
	"github.com/taskgrid/taskgrid/pkg/crypto"
	"github.com/taskgrid/taskgrid/pkg/order"
)

func main() {
	cfg := params.LoadFromEnv("")
	domain := cfg.Domain()

	fmt.Println("Generating new keypair...")
	signer, err := crypto.GenerateKey()
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Address: %s\n", signer.Address().Hex())
	fmt.Printf("Private Key: %s (KEEP SECRET!)\n\n", signer.PrivateKeyHex())

	o, err := order.NewAppOrder(order.AppOrderParams{
		App:    "0x6fa1b216a7df1c7689aeb259ffb83adfb894e7f0",
		Price:  big.NewInt(10),
		Volume: big.NewInt(100),
		Tag:    []string{"tee", "scone"},
	})
	if err != nil {
		fmt.Printf("Error building order: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Order Details:")
	fmt.Printf("  App: %s\n", o.App.Hex())
	fmt.Printf("  Price: %s\n", o.AppPrice)
	fmt.Printf("  Volume: %s\n", o.Volume)
	fmt.Printf("  Tag: %s\n\n", o.Tag)

	if err := order.SaltAndSign(o, domain, signer); err != nil {
		fmt.Printf("Error signing: %v\n", err)
		os.Exit(1)
	}
	h, err := order.Hash(o, domain)
	if err != nil {
		fmt.Printf("Error hashing: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Order Hash: %s\n", h.Hex())
	fmt.Printf("Signature: %s\n\n", o.Sign)

	recovered, err := order.RecoverSigner(o, domain)
	if err != nil {
		fmt.Printf("Error verifying: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Recovered signer: %s (matches: %v)\n\n", recovered.Hex(), recovered == signer.Address())

	body, err := json.MarshalIndent(o, "", "  ")
	if err != nil {
		fmt.Printf("Error marshaling JSON: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Signed order (JSON):")
	fmt.Println(string(body))
	fmt.Println()
	fmt.Println("To submit this order to the marketplace:")
	fmt.Printf("  POST http://localhost%s/api/v1/orders/apporder\n", cfg.API.ListenAddr)
	fmt.Println("  Content-Type: application/json")
}
