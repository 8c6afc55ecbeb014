package internal

import (
	"testing"
)

func TestLoadPlans(t *testing.T) {
	t.Setenv("PLANS", "supper-club, chefs-table")
	t.Setenv("PLAN_SUPPER_CLUB_PRICE_ID", "price_supper")
	t.Setenv("PLAN_SUPPER_CLUB_NAME", "Supper Club")
	t.Setenv("PLAN_CHEFS_TABLE_PRICE_ID", "price_chefs")

	plans := loadPlans()
	if len(plans) != 2 {
		t.Fatalf("len(plans) = %d, want 2", len(plans))
	}

	if plans[0].ID != "supper-club" || plans[0].PriceID != "price_supper" || plans[0].Name != "Supper Club" {
		t.Errorf("unexpected first plan: %+v", plans[0])
	}
	// Name falls back to the id when unset
	if plans[1].Name != "chefs-table" {
		t.Errorf("plan name = %q, want fallback to id", plans[1].Name)
	}
}

func TestLoadPlans_SkipsMissingPriceID(t *testing.T) {
	t.Setenv("PLANS", "supper-club,broken-plan")
	t.Setenv("PLAN_SUPPER_CLUB_PRICE_ID", "price_supper")

	plans := loadPlans()
	if len(plans) != 1 {
		t.Fatalf("len(plans) = %d, want 1 (broken plan skipped)", len(plans))
	}
	if plans[0].ID != "supper-club" {
		t.Errorf("plan id = %q, want supper-club", plans[0].ID)
	}
}

func TestLoadPlans_Empty(t *testing.T) {
	t.Setenv("PLANS", "")

	if plans := loadPlans(); len(plans) != 0 {
		t.Errorf("len(plans) = %d, want 0", len(plans))
	}
}

func TestNewConfig_ProdRequiresSecrets(t *testing.T) {
	t.Setenv("ENV", "prod")
	t.Setenv("SESSION_SECRET", "dev-secret-change-in-production")

	if _, err := NewConfig(); err == nil {
		t.Error("prod config with default session secret should fail")
	}
}

func TestNewConfig_DevDefaults(t *testing.T) {
	t.Setenv("ENV", "dev")

	cfg, err := NewConfig()
	if err != nil {
		t.Fatalf("NewConfig() error = %v", err)
	}
	if cfg.Port != 3000 {
		t.Errorf("port = %d, want 3000", cfg.Port)
	}
	if cfg.Billing.SuccessURL == "" || cfg.Billing.CancelURL == "" {
		t.Error("checkout redirect URLs must have defaults")
	}
}
