// cmd/gentoken/main.go — issues an access token for a company.
// Usage: JWT_SECRET=... go run ./cmd/gentoken -company <uuid> [-role admin] [-ttl 24h]
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func main() {
	company := flag.String("company", "", "company UUID the token is scoped to")
	role := flag.String("role", "admin", "token role: operator | admin")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		log.Fatal("JWT_SECRET is required")
	}
	if *company == "" {
		log.Fatal("-company is required")
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"company_id": *company,
		"role":       *role,
		"iat":        now.Unix(),
		"exp":        now.Add(*ttl).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		log.Fatalf("sign error: %v", err)
	}
	fmt.Println(signed)
}
