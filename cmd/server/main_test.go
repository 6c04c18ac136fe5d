package main

import (
	"context"
	"testing"
	"time"

	"kasirinaja/settlement/internal/config"
	"kasirinaja/settlement/internal/domain"
	"kasirinaja/settlement/internal/httpapi"
	"kasirinaja/settlement/internal/store/memory"
)

const strongSecret = "0123456789abcdef0123456789abcdef"

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	if err := validateSecurityConfig(config.Config{AuthSecret: "short"}); err == nil {
		t.Fatalf("expected weak auth secret to be rejected")
	}
}

func TestValidateSecurityConfigRejectsPartialGateway(t *testing.T) {
	cfg := config.Config{
		AuthSecret: strongSecret,
		Gateway:    config.GatewayConfig{ClientID: "client", APIKey: "key"},
	}
	if err := validateSecurityConfig(cfg); err == nil {
		t.Fatalf("expected partial gateway credentials to be rejected")
	}
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	cfg := config.Config{
		AuthSecret: strongSecret,
		Gateway:    config.GatewayConfig{ClientID: "client", APIKey: "key", ChecksumKey: strongSecret},
	}
	if err := validateSecurityConfig(cfg); err != nil {
		t.Fatalf("expected strong config to pass, got %v", err)
	}
	if err := validateSecurityConfig(config.Config{AuthSecret: strongSecret}); err != nil {
		t.Fatalf("expected sandbox config to pass, got %v", err)
	}
}

func TestSeedAccountsCreatesLoginableUsers(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	auth := httpapi.NewAuthManager(ctx, strongSecret, time.Hour, repo)

	cfg := config.Config{SeedAdminPassword: "admin-pass-1", SeedCashierPassword: "cashier-pass-1"}
	if err := seedAccounts(ctx, auth, cfg); err != nil {
		t.Fatalf("seed accounts: %v", err)
	}
	resp, err := auth.Login(ctx, domain.LoginRequest{Username: "cashier", Password: "cashier-pass-1"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if resp.Role != "cashier" {
		t.Fatalf("expected cashier role, got %s", resp.Role)
	}
}
