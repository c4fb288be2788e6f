// mktoken issues a signed API token for a user, for local development and
// operational debugging. JWT_SECRET must match the running server.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/example/sewaghar/internal/auth"
)

func main() {
	var (
		userID = flag.String("user", "", "user id to issue the token for")
		role   = flag.String("role", "customer", "role: customer or provider")
		ttl    = flag.Duration("ttl", 24*time.Hour, "token lifetime")
	)
	flag.Parse()

	_ = godotenv.Load()

	if *userID == "" {
		log.Fatal("-user is required")
	}
	r := auth.Role(*role)
	if r != auth.RoleCustomer && r != auth.RoleProvider {
		log.Fatalf("unknown role %q", *role)
	}
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		log.Fatal("JWT_SECRET must be set")
	}

	token, err := auth.NewManager(secret, *ttl).Issue(auth.Identity{ID: *userID, Role: r})
	if err != nil {
		log.Fatalf("issuing token: %v", err)
	}
	fmt.Println(token)
}
