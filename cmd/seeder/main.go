// Command seeder opens demo accounts on the ledger database, credits their
// opening balances and prints a bearer token for each.
//
//	seeder -accounts "Alice=100,Bob=50.25" -token-ttl 24h
//	seeder -deactivate 12345678
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ayo6706/ledger-transfer/internal/api/middleware"
	"github.com/ayo6706/ledger-transfer/internal/config"
	"github.com/ayo6706/ledger-transfer/internal/db"
	"github.com/ayo6706/ledger-transfer/internal/domain"
	"github.com/ayo6706/ledger-transfer/internal/repository"
	"github.com/ayo6706/ledger-transfer/internal/service"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type seededAccount struct {
	ID            string `json:"id"`
	AccountNumber string `json:"account_number"`
	Name          string `json:"name"`
	Balance       string `json:"balance"`
	Token         string `json:"token"`
}

type opening struct {
	name   string
	amount decimal.Decimal
}

func main() {
	accounts := flag.String("accounts", "Alice=100,Bob=50", "comma separated name=opening_balance pairs")
	tokenTTL := flag.Duration("token-ttl", 24*time.Hour, "lifetime of issued tokens")
	deactivate := flag.String("deactivate", "", "account number to deactivate instead of seeding")
	flag.Parse()

	if err := run(*accounts, *tokenTTL, *deactivate); err != nil {
		fmt.Fprintf(os.Stderr, "seeder error: %v\n", err)
		os.Exit(1)
	}
}

func run(spec string, ttl time.Duration, deactivate string) error {
	cfg, err := config.Load(config.ServiceLedger)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	middleware.SetJWTSecret(cfg.JWTSecret)
	middleware.SetJWTValidation(cfg.JWTIssuer, cfg.JWTAudience)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pool, err := db.Connect(ctx, cfg.DatabaseURL, "ledger-transfer-seeder")
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	if err := db.EnsureSchema(ctx, pool, db.LedgerSchema); err != nil {
		return err
	}
	store := repository.NewStore(pool)
	accountSvc := service.NewAccountService(store)

	if deactivate != "" {
		acc, err := accountSvc.LookupAccount(ctx, deactivate)
		if err != nil {
			return fmt.Errorf("lookup %s: %w", deactivate, err)
		}
		if err := accountSvc.DeactivateAccount(ctx, acc.ID); err != nil {
			return fmt.Errorf("deactivate %s: %w", deactivate, err)
		}
		logger.Info("account deactivated", zap.String("account_number", acc.Number))
		return nil
	}

	openings, err := parseOpenings(spec)
	if err != nil {
		return err
	}

	movementSvc := service.NewMovementService(store)
	out := json.NewEncoder(os.Stdout)
	out.SetIndent("", "  ")
	for _, o := range openings {
		acc, err := accountSvc.OpenAccount(ctx, o.name)
		if err != nil {
			return fmt.Errorf("open account %q: %w", o.name, err)
		}
		if o.amount.IsPositive() {
			if _, err := movementSvc.RecordMovement(ctx, service.MovementCommand{
				AccountID:      acc.ID,
				Kind:           domain.KindCredit,
				Amount:         o.amount,
				IdempotencyKey: "seed-" + acc.Number,
			}); err != nil {
				return fmt.Errorf("seed balance for %s: %w", acc.Number, err)
			}
		}
		token, err := middleware.IssueToken(acc.ID, acc.Number, acc.Name, ttl)
		if err != nil {
			return fmt.Errorf("issue token for %s: %w", acc.Number, err)
		}
		logger.Info("account seeded", zap.String("account_number", acc.Number), zap.String("balance", o.amount.StringFixed(2)))
		if err := out.Encode(seededAccount{
			ID:            acc.ID.String(),
			AccountNumber: acc.Number,
			Name:          acc.Name,
			Balance:       o.amount.StringFixed(2),
			Token:         token,
		}); err != nil {
			return err
		}
	}
	return nil
}

func parseOpenings(spec string) ([]opening, error) {
	var openings []opening
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, amount, found := strings.Cut(part, "=")
		if !found {
			amount = "0"
		}
		d, err := domain.ParseAmount(amount)
		if err != nil || d.IsNegative() {
			return nil, fmt.Errorf("invalid opening balance in %q", part)
		}
		openings = append(openings, opening{name: strings.TrimSpace(name), amount: d})
	}
	if len(openings) == 0 {
		return nil, fmt.Errorf("no accounts to seed")
	}
	return openings, nil
}
