// Package main mints bearer tokens for event producers and operators.
//
//	token -subject shopify-flow -role service
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/dogdollars/loyalty/config"
	"github.com/dogdollars/loyalty/internal/auth"
)

func main() {
	subject := flag.String("subject", "", "calling system name (required)")
	role := flag.String("role", auth.RoleService, "service or admin")
	flag.Parse()

	if *subject == "" {
		fmt.Fprintln(os.Stderr, "token: -subject is required")
		os.Exit(2)
	}
	cfg := config.LoadJWT()
	token, err := auth.NewJWTService(cfg.Secret, cfg.Issuer, cfg.TokenTTL).Generate(*subject, *role)
	if err != nil {
		fmt.Fprintln(os.Stderr, "token:", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
