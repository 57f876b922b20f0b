// Smoke test for the SDK against a running devstub backend.
// Start one first: go run ./cmd/devstub -addr :8085
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/volleylive/client-go/internal/api"
	"github.com/volleylive/client-go/internal/app"
	"github.com/volleylive/client-go/internal/config"
	vlog "github.com/volleylive/client-go/internal/log"
)

func main() {
	baseURL := flag.String("base-url", "http://localhost:8085", "devstub base URL")
	email := flag.String("email", "referee@volleylive.test", "login email")
	password := flag.String("password", "whistle123", "login password")
	flag.Parse()

	logger := vlog.New("debug")

	dbPath, err := os.MkdirTemp("", "volleylive-smoke-*")
	if err != nil {
		log.Fatalf("temp dir: %v", err)
	}
	defer os.RemoveAll(dbPath)

	cfg := config.Default()
	cfg.APIBaseURL = *baseURL
	cfg.DatabasePath = dbPath + "/smoke.db"

	a, err := app.New(cfg, logger)
	if err != nil {
		log.Fatalf("build app: %v", err)
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sessions := a.Sessions()
	if err := sessions.Initialize(ctx); err != nil {
		log.Fatalf("initialize: %v", err)
	}

	if err := sessions.Login(ctx, *email, *password); err != nil {
		log.Fatalf("login: %v", err)
	}
	user := sessions.CurrentUser()
	fmt.Printf("logged in: %s <%s> roles=%v\n", user.Name, user.Email, user.Roles)
	fmt.Printf("permissions: %v\n", sessions.Permissions())

	name := "Smoke Tester"
	if err := sessions.UpdateUserProfile(ctx, api.UserPatch{Name: &name}); err != nil {
		log.Fatalf("update profile: %v", err)
	}
	fmt.Printf("renamed to: %s\n", sessions.CurrentUser().Name)

	if err := sessions.Logout(ctx); err != nil {
		log.Fatalf("logout: %v", err)
	}
	if sessions.IsAuthenticated() {
		log.Fatal("still authenticated after logout")
	}
	fmt.Println("smoke test passed")
}
