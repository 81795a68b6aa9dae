// Command devtoken mints a signed bearer token for local testing against
// the gateway. Not for production use: real tokens come from the auth
// backend.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/strataplatform/api-gateway/internal/config"
	"github.com/strataplatform/api-gateway/internal/token"
)

func main() {
	subject := flag.String("subject", "dev@localhost", "token subject (email)")
	role := flag.String("role", "", "role claim, e.g. admin")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	validator, err := token.NewValidator(cfg.Auth.JWTSecret, cfg.Auth.JWTAlgorithm)
	if err != nil {
		log.Fatalf("validator: %v", err)
	}

	signed, err := validator.Sign(*subject, *role, *ttl)
	if err != nil {
		log.Fatalf("sign: %v", err)
	}

	fmt.Fprintln(os.Stdout, signed)
}
