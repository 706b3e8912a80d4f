package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"salonbook.app/internal/auth"
	"salonbook.app/internal/config"
	"salonbook.app/internal/docstore/backend"
)

func main() {
	var (
		uid         = flag.String("uid", "", "Account id, 28 alphanumeric characters (default: generated)")
		email       = flag.String("email", "", "Account email")
		displayName = flag.String("name", "", "Display name")
		ttl         = flag.Duration("ttl", time.Hour, "Token lifetime")
		register    = flag.Bool("register", true, "Register the account in the store directory")
	)
	flag.Parse()

	if *email == "" {
		usage()
	}
	cfg, err := config.Load()
	if err != nil {
		fail("load config: %v", err)
	}
	if cfg.Identity.Mode != config.IdentityJWT {
		fail("devtoken only works in %s identity mode", config.IdentityJWT)
	}
	if *uid == "" {
		*uid = newUID()
	}

	if *register {
		if cfg.Store.Driver == config.DriverMemory {
			fail("registration needs a persistent store; set SALONBOOK_STORE or pass -register=false")
		}
		store, err := backend.Open(cfg.Store)
		if err != nil {
			fail("%v", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = auth.NewStoreDirectory(store).Register(ctx, auth.UserInfo{UID: *uid, Email: *email, DisplayName: *displayName})
		cancel()
		_ = store.Close()
		if err != nil {
			fail("register %s: %v", *uid, err)
		}
	}

	verifier, err := auth.NewJWTVerifier(cfg.Identity.JWTSecret, auth.WithIssuer(cfg.Identity.JWTIssuer))
	if err != nil {
		fail("jwt verifier: %v", err)
	}
	token, err := verifier.GenerateToken(*uid, *email, *ttl)
	if err != nil {
		fail("sign token: %v", err)
	}
	fmt.Fprintf(os.Stderr, "uid: %s\n", *uid)
	fmt.Println(token)
}

// newUID returns a 28 character alphanumeric id, the shape identity providers issue.
func newUID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:28]
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s -email <address> [-uid id] [-name display] [-ttl 1h] [-register=false]\n", os.Args[0])
	os.Exit(1)
}
