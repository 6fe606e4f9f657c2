/**
 * Copyright 2025-present OpenOES Contributors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"openoes-go/internal/acl"
	"openoes-go/internal/common"
	"openoes-go/internal/config"
	"openoes-go/internal/consumer"
	"openoes-go/internal/keyspace"
	"openoes-go/internal/reconciler"
	"openoes-go/internal/streamlog"

	"go.uber.org/zap"
)

func main() {
	skipPolicyCheck := flag.Bool("skip-policy-check", false, "Skip the ACL policy boundary validation at startup")
	flag.Parse()

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Failed to load configuration", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	zap.L().Info("Starting Exchange mirror service")

	streams := []string{
		keyspace.CreditRequestStream,
		keyspace.CreditDecisionStream,
		keyspace.PledgeStream,
		keyspace.SettlementStream,
	}

	if !*skipPolicyCheck {
		if err := validatePolicy(cfg.Consumer.PolicyFile, streams); err != nil {
			zap.L().Fatal("Access policy validation failed", zap.Error(err))
		}
		zap.L().Info("Access policy validated", zap.String("file", cfg.Consumer.PolicyFile))
	}

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	// The Exchange principal consumes from the stream-writeable replica.
	eventLog := streamlog.NewClient(services.Connections.Replica())

	mirror := consumer.NewMirrorConsumer(consumer.MirrorConsumerConfig{
		Log:        eventLog,
		Store:      services.DbService,
		Accounting: services.Accounting,
		Streams:    streams,
		Consumer:   cfg.Consumer,
	})
	if err := mirror.Start(ctx); err != nil {
		zap.L().Fatal("Failed to start mirror consumer", zap.Error(err))
	}

	rec := reconciler.New(services.DbService, cfg.Reconciler.Interval)
	rec.Start(ctx)

	zap.L().Info("Mirror service running",
		zap.Strings("streams", streams),
		zap.String("group", cfg.Consumer.Group),
		zap.String("consumer", cfg.Consumer.Name))
	zap.L().Info("Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		zap.L().Info("Shutdown signal received, stopping...")
	case <-mirror.Done():
		zap.L().Error("Mirror consumer exited, shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			mirror.Stop()
		}()
		go func() {
			defer wg.Done()
			rec.Stop()
		}()
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		zap.L().Info("Mirror service stopped gracefully")
	case <-shutdownCtx.Done():
		zap.L().Warn("Forced shutdown after timeout")
	}
}

// validatePolicy checks the declared access boundary before any consuming
// starts. A policy that would let the Exchange write inventory keys directly
// is a deployment error, not something to discover in production.
func validatePolicy(policyFile string, streams []string) error {
	policy, err := acl.Load(policyFile)
	if err != nil {
		return err
	}

	inventoryKey, err := keyspace.InventoryKey("example-user", "BTC")
	if err != nil {
		return err
	}
	return policy.CheckExchangeBoundary(streams, inventoryKey)
}
