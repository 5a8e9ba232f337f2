// Command devtoken prints a bearer token for local testing of the API.
// Production tokens are issued by the authentication service.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"storefront/internal/config"
	"storefront/internal/middleware"

	"github.com/google/uuid"
)

func main() {
	var (
		userID = flag.String("user", "", "user id (random if empty)")
		role   = flag.String("role", middleware.RoleUser, "role: user or admin")
		ttl    = flag.Duration("ttl", time.Hour, "token lifetime")
	)
	flag.Parse()

	cfg := config.Load()
	if cfg.JWT.Secret == "" {
		fmt.Fprintln(os.Stderr, "JWT_SECRET is not set")
		os.Exit(1)
	}

	id := uuid.New()
	if *userID != "" {
		parsed, err := uuid.Parse(*userID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid user id: %v\n", err)
			os.Exit(1)
		}
		id = parsed
	}
	if *role != middleware.RoleUser && *role != middleware.RoleAdmin {
		fmt.Fprintf(os.Stderr, "unknown role %q\n", *role)
		os.Exit(1)
	}

	token, err := middleware.SignToken(cfg.JWT.Secret, id, *role, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to sign token: %v\n", err)
		os.Exit(1)
	}

	fmt.Fprintf(os.Stderr, "user_id=%s role=%s expires_in=%s\n", id, *role, *ttl)
	fmt.Println(token)
}
