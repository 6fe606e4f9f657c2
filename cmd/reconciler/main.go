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
	"syscall"

	"openoes-go/internal/common"
	"openoes-go/internal/config"
	"openoes-go/internal/reconciler"

	"go.uber.org/zap"
)

func main() {
	once := flag.Bool("once", false, "Run a single reconciliation pass and exit")
	flag.Parse()

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Failed to load configuration", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Reconciliation only reads the mirror and writes derived reports, so
	// the event log connections are not needed.
	dbService, err := common.InitializeDatabaseOnly(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize database", zap.Error(err))
	}
	defer dbService.Close()

	rec := reconciler.New(dbService, cfg.Reconciler.Interval)

	if *once {
		if err := rec.RunOnce(ctx); err != nil {
			zap.L().Fatal("Reconciliation pass failed", zap.Error(err))
		}
		zap.L().Info("Reconciliation pass completed")
		return
	}

	rec.Start(ctx)
	zap.L().Info("Reconciler running", zap.Duration("interval", cfg.Reconciler.Interval))
	zap.L().Info("Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	zap.L().Info("Shutdown signal received, stopping...")
	rec.Stop()
}
