// Package main mints operator access tokens for the transitopt API.
//
//	token -operator ops-team -role admin -ttl 24h
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/transitopt/transitopt/internal/auth"
)

func main() {
	_ = godotenv.Load()

	operator := flag.String("operator", "", "operator id (required)")
	role := flag.String("role", string(auth.RoleOperator), "operator or admin")
	ttl := flag.Duration("ttl", 12*time.Hour, "token lifetime")
	audience := flag.String("audience", "transitopt-api", "audience claim")
	flag.Parse()

	if err := mint(*operator, auth.Role(*role), *ttl, *audience); err != nil {
		fmt.Fprintln(os.Stderr, "token:", err)
		os.Exit(1)
	}
}

func mint(operator string, role auth.Role, ttl time.Duration, audience string) error {
	if operator == "" {
		return fmt.Errorf("-operator is required")
	}
	if role != auth.RoleOperator && role != auth.RoleAdmin {
		return fmt.Errorf("unknown role %q", role)
	}
	key := os.Getenv("JWT_SIGNING_KEY")
	if key == "" {
		return fmt.Errorf("JWT_SIGNING_KEY is not set")
	}

	svc := auth.NewJWTService(auth.JWTConfig{SigningKey: key, Issuer: "transitopt", Audience: audience})
	tok, expires, err := svc.GenerateAccessToken(operator, role, ttl)
	if err != nil {
		return err
	}
	fmt.Println(tok)
	fmt.Fprintln(os.Stderr, "expires", expires.Format(time.RFC3339))
	return nil
}
