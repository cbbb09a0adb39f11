package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"admin-auth/internal/config"
	"admin-auth/internal/factory"
	"admin-auth/internal/hashing"
	"admin-auth/internal/service"
	"admin-auth/internal/util"
)

func main() {
	var (
		email      = flag.String("email", os.Getenv("ADMIN_EMAIL"), "admin email address")
		name       = flag.String("name", os.Getenv("ADMIN_NAME"), "display name")
		password   = flag.String("password", "", "new password (defaults to $ADMIN_PASSWORD)")
		twoFactor  = flag.Bool("2fa", false, "require an emailed code at login")
		deactivate = flag.Bool("deactivate", false, "disable the account instead of activating it")
		benchmark  = flag.Int("benchmark", 0, "time N password hashes with the configured parameters and exit")
	)
	flag.Parse()

	cfg := config.LoadConfig()
	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format, nil)
	defer util.Sync()

	hasher := hashing.NewHasher(cfg)
	if *benchmark > 0 {
		avg := hasher.Benchmark(*benchmark)
		util.Info("Password hash benchmark",
			util.Int("iterations", *benchmark),
			util.Duration("average", avg))
		return
	}

	if err := cfg.Validate(); err != nil {
		util.Fatal("Invalid configuration", util.ErrorField(err))
	}

	pw := *password
	if pw == "" {
		pw = os.Getenv("ADMIN_PASSWORD")
	}

	store, err := factory.OpenStore(cfg)
	if err != nil {
		util.Fatal("Failed to open credential store", util.ErrorField(err))
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	account, created, err := service.ProvisionAccount(ctx, store, hasher, service.ProvisionRequest{
		Email:            *email,
		DisplayName:      *name,
		Password:         pw,
		TwoFactorEnabled: *twoFactor,
		Active:           !*deactivate,
	}, util.SystemClock{}.Now())
	if err != nil {
		util.Error("Provisioning failed", util.ErrorField(err))
		store.Close()
		os.Exit(1)
	}

	action := "updated"
	if created {
		action = "created"
	}
	fmt.Printf("%s admin account %s (%s)\n", action, account.ID, account.Email)
}
