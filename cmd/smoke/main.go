package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"salonbook.app/internal/auth"
	"salonbook.app/internal/callable"
	"salonbook.app/internal/callable/remote"
)

// smoke walks a fresh account through sign-up against a running API. Mint the token
// with devtoken so the account is known to the directory.
func main() {
	log.SetFlags(0)
	var (
		addr  = flag.String("addr", os.Getenv("SALONBOOK_GRPC_ADDR"), "gRPC address of the API")
		token = flag.String("token", os.Getenv("SALONBOOK_SMOKE_TOKEN"), "Bearer token of the account")
		uid   = flag.String("uid", "", "Account id the token was minted for")
		email = flag.String("email", "", "Account email the token was minted for")
		code  = flag.String("link-code", "", "Business link code; when set the account signs up as a professional")
	)
	flag.Parse()
	if *addr == "" {
		*addr = "localhost:9090"
	}
	if *token == "" || *uid == "" || *email == "" {
		log.Fatal("usage: smoke -token <jwt> -uid <id> -email <address> [-addr host:port] [-link-code CODE]")
	}

	client, err := remote.Dial(*addr)
	if err != nil {
		log.Fatalf("dial api at %s: %v", *addr, err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	ctx = auth.ContextWithToken(ctx, *token)

	role := "client"
	profile := map[string]any{"name": "Cliente Smoke", "phone": "11987654321"}
	if *code != "" {
		role = "professional"
		profile = map[string]any{"name": "Profissional Smoke", "phone": "11987654321", "specialty": "Corte"}
	}

	created, err := client.CreateInitialUserDocument(ctx, callable.InitialUserRequest{
		UID: *uid, Email: *email, DisplayName: "Smoke", Role: role,
	})
	if err != nil {
		log.Fatalf("create initial user: %v", err)
	}
	log.Printf("user document: exists=%v", created.Exists)

	if _, err := client.CreateProfile(ctx, callable.ProfileRequest{
		UID: *uid, Email: *email, Role: role, ProfileData: profile,
	}); err != nil {
		log.Fatalf("create profile: %v", err)
	}

	if *code != "" {
		linked, err := client.LinkProfessionalToBusiness(ctx, callable.LinkRequest{ProfessionalUID: *uid, BusinessCode: *code})
		if err != nil {
			log.Fatalf("link to %s: %v", *code, err)
		}
		log.Printf("linked to %s (%s)", linked.BusinessName, linked.BusinessID)
	}

	login, err := client.ValidateLogin(ctx, callable.LoginRequest{UID: *uid, Email: *email, Role: role})
	if err != nil {
		log.Fatalf("validate login: %v", err)
	}
	if !login.Success {
		log.Fatalf("login rejected: redirect=%q missing=%v status=%q", login.RedirectTo, login.MissingFields, login.ProfileStatus)
	}
	log.Printf("OK: %s logged in as %s", *uid, role)
}
