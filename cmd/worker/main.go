// Command worker runs the stripe-sync-engine background process: the
// queue-driven dispatcher that pages through the Resource Registry,
// periodic stale-run cancellation, and managed-webhook reconciliation
// for this engine's own endpoint. The HTTP frontend that accepts
// POST /webhooks and calls the Event Router is a separate external
// collaborator (spec §1) and is not part of this binary.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/supabase/stripe-sync-engine/internal/account"
	"github.com/supabase/stripe-sync-engine/internal/backfill"
	"github.com/supabase/stripe-sync-engine/internal/config"
	"github.com/supabase/stripe-sync-engine/internal/objects"
	"github.com/supabase/stripe-sync-engine/internal/queue"
	"github.com/supabase/stripe-sync-engine/internal/reconciler"
	"github.com/supabase/stripe-sync-engine/internal/registry"
	"github.com/supabase/stripe-sync-engine/internal/store"
	"github.com/supabase/stripe-sync-engine/internal/stripeclient"
	"github.com/supabase/stripe-sync-engine/pkg/dbpool"
	"github.com/supabase/stripe-sync-engine/pkg/workqueue"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	logger.Info("starting stripe-sync-engine worker")

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := dbpool.New(ctx, cfg.Database)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	logger.Info("connected to database")

	sc := stripeclient.New(cfg.Stripe, logger)
	reg := buildRegistry(sc, cfg)

	gw := store.New(db, logger)
	accounts := account.New(db, reg, logger)
	orch := objects.New(gw, sc, logger, cfg.Stripe.AutoExpandLists, cfg.Stripe.BackfillRelated)
	backfillCtrl := backfill.New(gw, reg, sc, logger, cfg.Sigma.Enabled, cfg.Worker.MaxConcurrentCustomers)
	recon := reconciler.New(gw, sc, logger)

	rebindUpserts(reg, orch)

	queueStore := queue.New(db)
	dispatcher := queue.NewDispatcher(queueStore, backfillCtrl, reg, logger)

	accountID, err := resolveEngineAccount(ctx, accounts, sc, cfg.Stripe)
	if err != nil {
		logger.Fatal("failed to resolve engine account", zap.Error(err))
	}
	logger.Info("resolved engine account", zap.String("account_id", accountID))

	if cfg.Stripe.WebhookURL != "" {
		wh, err := recon.FindOrCreateManagedWebhook(ctx, accountID, cfg.Stripe.WebhookURL)
		if err != nil {
			logger.Error("managed webhook reconciliation failed, continuing without it", zap.Error(err))
		} else {
			logger.Info("managed webhook ready", zap.String("webhook_id", wh.ID), zap.String("status", wh.Status))
		}
	}

	var wg sync.WaitGroup
	startDispatchLoop(ctx, &wg, dispatcher, gw, accountID, cfg.Worker, logger)
	startStaleRunCancellation(ctx, &wg, gw, accountID, logger)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down worker...")
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		logger.Warn("background loops did not stop within grace period")
	}

	logger.Info("worker exited")
}

// buildRegistry wires every registry.DefaultOrder entry to its
// concrete List function, plus the Sigma-backed entries from
// registry.DefaultSigmaOrder when enabled (spec §4.D). Upsert
// functions are bound afterward by rebindUpserts, once the Upsert
// Orchestrator exists; List functions only need the Stripe client,
// which is already available here.
func buildRegistry(sc *stripeclient.Client, cfg *config.Config) *registry.Registry {
	reg := registry.New()

	type def struct {
		name                  string
		table                 string
		list                  registry.ListFunc
		supportsCreatedFilter bool
	}

	defs := []def{
		{"product", "products", sc.ListProducts, true},
		{"price", "prices", sc.ListPrices, true},
		{"plan", "plans", sc.ListPlans, true},
		{"customer", "customers", sc.ListCustomers, true},
		{"subscription", "subscriptions", sc.ListSubscriptions, true},
		{"subscription_schedules", "subscription_schedules", sc.ListSubscriptionSchedules, true},
		{"tax_id", "tax_ids", sc.ListCustomerTaxIDs, false},
		{"setup_intent", "setup_intents", sc.ListSetupIntents, true},
		{"invoice", "invoices", sc.ListInvoices, true},
		{"charge", "charges", sc.ListCharges, true},
		{"payment_intent", "payment_intents", sc.ListPaymentIntents, true},
		{"payment_method", "payment_methods", sc.ListCustomerPaymentMethods, false},
		{"credit_note", "credit_notes", sc.ListCreditNotes, true},
		{"dispute", "disputes", sc.ListDisputes, true},
		{"early_fraud_warning", "early_fraud_warnings", sc.ListEarlyFraudWarnings, false},
		{"refund", "refunds", sc.ListRefunds, true},
		{"checkout_sessions", "checkout_sessions", sc.ListCheckoutSessions, true},
	}
	for order, d := range defs {
		reg.Register(registry.Entry{
			Name:                  d.name,
			Table:                 d.table,
			Order:                 order,
			List:                  d.list,
			SupportsCreatedFilter: d.supportsCreatedFilter,
		})
	}

	if cfg.Sigma.Enabled {
		base := len(defs)
		for i, name := range registry.DefaultSigmaOrder {
			sigma := sigmaConfigFor(name)
			reg.Register(registry.Entry{
				Name:  name,
				Table: sigma.DestinationTable,
				Order: base + i,
				Sigma: sigma,
			})
		}
	}

	return reg
}

// sigmaConfigFor names the destination table and cursor column for
// each Sigma-backed kind in registry.DefaultSigmaOrder.
func sigmaConfigFor(name string) *registry.SigmaConfig {
	switch name {
	case "subscription_item_change_events_v2_beta":
		return &registry.SigmaConfig{
			DestinationTable: "subscription_item_change_events",
			CursorColumn:     "id",
			CursorColumnType: "text",
			PageSize:         1000,
		}
	case "exchange_rates_from_usd":
		return &registry.SigmaConfig{
			DestinationTable: "exchange_rates",
			CursorColumn:     "date",
			CursorColumnType: "text",
			PageSize:         1000,
		}
	default:
		return &registry.SigmaConfig{DestinationTable: name, CursorColumn: "id", CursorColumnType: "text", PageSize: 1000}
	}
}

// rebindUpserts re-registers every entry with its Upsert function once
// the Upsert Orchestrator is available, preserving every other field
// already set by buildRegistry.
func rebindUpserts(reg *registry.Registry, orch *objects.Orchestrator) {
	upserts := map[string]registry.UpsertFunc{
		"product":                orch.UpsertProducts,
		"price":                  orch.UpsertPrices,
		"plan":                   orch.UpsertPlans,
		"customer":               orch.UpsertCustomers,
		"subscription":           orch.UpsertSubscriptions,
		"subscription_schedules": orch.UpsertSubscriptionSchedules,
		"tax_id":                 orch.UpsertTaxIDs,
		"setup_intent":           orch.UpsertSetupIntents,
		"invoice":                orch.UpsertInvoices,
		"charge":                 orch.UpsertCharges,
		"payment_intent":         orch.UpsertPaymentIntents,
		"payment_method":         orch.UpsertPaymentMethods,
		"credit_note":            orch.UpsertCreditNotes,
		"dispute":                orch.UpsertDisputes,
		"early_fraud_warning":    orch.UpsertEarlyFraudWarnings,
		"refund":                 orch.UpsertRefunds,
		"checkout_sessions":      orch.UpsertCheckoutSessions,
	}
	for name, upsert := range upserts {
		entry, ok := reg.Get(name)
		if !ok {
			continue
		}
		entry.Upsert = upsert
		reg.Register(entry)
	}
}

func resolveEngineAccount(ctx context.Context, accounts *account.Manager, sc *stripeclient.Client, cfg config.StripeConfig) (string, error) {
	if cfg.AccountID != "" {
		if err := accounts.EnsureAccountExists(ctx, cfg.AccountID); err != nil {
			return "", err
		}
		return cfg.AccountID, nil
	}

	id, err := accounts.GetAccountIDByAPIKey(ctx, cfg.SecretKey)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, account.ErrNotFound) {
		return "", err
	}

	acct, err := sc.RetrieveAccount(ctx, "")
	if err != nil {
		return "", fmt.Errorf("retrieve account for engine key: %w", err)
	}
	payload, err := json.Marshal(acct)
	if err != nil {
		return "", err
	}
	hash := account.HashAPIKey(cfg.SecretKey)
	if err := accounts.UpsertAccount(ctx, acct.ID, payload, hash); err != nil {
		return "", err
	}
	return acct.ID, nil
}

func startDispatchLoop(ctx context.Context, wg *sync.WaitGroup, d *queue.Dispatcher, gw *store.Gateway, accountID string, wc config.WorkerConfig, logger *zap.Logger) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		err := workqueue.Poll(ctx, wc.TickInterval, func(pollCtx context.Context) bool {
			n, err := d.ProcessBatch(pollCtx, accountID, gw, wc.QueueBatch)
			if err != nil {
				logger.Error("queue dispatch batch failed", zap.Error(err))
				return false
			}
			return n > 0
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("dispatch loop stopped", zap.Error(err))
		}
	}()
}

func startStaleRunCancellation(ctx context.Context, wg *sync.WaitGroup, gw *store.Gateway, accountID string, logger *zap.Logger) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := gw.CancelStaleRuns(ctx, accountID); err != nil {
					logger.Error("cancel stale runs failed", zap.Error(err))
				}
			}
		}
	}()
}
