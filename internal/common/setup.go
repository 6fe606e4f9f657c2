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

package common

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"openoes-go/internal/custodian"
	"openoes-go/internal/database"
	"openoes-go/internal/formance"
	"openoes-go/internal/models"
	"openoes-go/internal/store"
	"openoes-go/internal/streamlog"

	"github.com/coinbase-samples/prime-sdk-go/credentials"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// init loads environment variables from .env file if it exists
func init() {
	if err := godotenv.Load(); err != nil {
		log.Printf("Note: No .env file found or unable to load it: %v\n", err)
		log.Println("Make sure to set environment variables via export or other means")
	} else {
		log.Println("✓ Loaded environment variables from .env file")
	}
}

// Services bundles the wired backends: the event log connections, the
// SQLite mirror, and the optional accounting and custodian integrations.
type Services struct {
	Connections      *streamlog.Manager
	DbService        *database.Service
	Accounting       store.InventoryStore // nil unless FORMANCE_STACK_URL is set
	CustodianService *custodian.Service   // nil unless CUSTODIAN_CHECK_ENABLED
	DefaultPortfolio *models.Portfolio    // nil unless custodian is enabled
}

func InitializeLogger() (*zap.Logger, func()) {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	zap.ReplaceGlobals(logger)

	cleanup := func() {
		if err := logger.Sync(); err != nil {
			if !isIgnorableSyncError(err) {
				log.Printf("Failed to sync logger: %v\n", err)
			}
		}
	}

	return logger, cleanup
}

func InitializeServices(ctx context.Context, cfg *models.Config) (*Services, error) {
	connections := streamlog.NewManager(cfg.WSP, cfg.Replica)
	if err := connections.Ping(ctx); err != nil {
		connections.Close()
		return nil, fmt.Errorf("event log unreachable: %w", err)
	}

	dbService, err := database.NewService(ctx, cfg.Database)
	if err != nil {
		connections.Close()
		return nil, err
	}

	services := &Services{
		Connections: connections,
		DbService:   dbService,
	}

	if cfg.Accounting.StackURL != "" {
		accounting, err := formance.NewService(ctx, cfg.Accounting)
		if err != nil {
			services.Close()
			return nil, err
		}
		services.Accounting = accounting
	}

	if cfg.Custodian.Enabled {
		zap.L().Info("Loading custodian API credentials")
		creds, err := loadCustodianCredentials()
		if err != nil {
			services.Close()
			return nil, err
		}

		custodianService, err := custodian.NewService(creds, cfg.Custodian.WalletType)
		if err != nil {
			services.Close()
			return nil, err
		}

		zap.L().Info("Finding default portfolio")
		defaultPortfolio, err := custodianService.FindDefaultPortfolio(ctx)
		if err != nil {
			services.Close()
			return nil, err
		}
		zap.L().Info("Using default portfolio",
			zap.String("name", defaultPortfolio.Name),
			zap.String("id", defaultPortfolio.Id))

		services.CustodianService = custodianService
		services.DefaultPortfolio = defaultPortfolio
	}

	return services, nil
}

// InitializeDatabaseOnly initializes just the mirror database without the
// event log connections. Useful for read-only operations like querying
// balances.
func InitializeDatabaseOnly(ctx context.Context, cfg *models.Config) (*database.Service, error) {
	dbService, err := database.NewService(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	return dbService, nil
}

func (cs *Services) Close() {
	if cs.DbService != nil {
		cs.DbService.Close()
	}
	if cs.Connections != nil {
		cs.Connections.Close()
	}
}

func loadCustodianCredentials() (*credentials.Credentials, error) {
	accessKey := os.Getenv("PRIME_ACCESS_KEY")
	passphrase := os.Getenv("PRIME_PASSPHRASE")
	signingKey := os.Getenv("PRIME_SIGNING_KEY")

	if accessKey == "" || passphrase == "" || signingKey == "" {
		return nil, fmt.Errorf("missing required custodian API credentials: PRIME_ACCESS_KEY, PRIME_PASSPHRASE, PRIME_SIGNING_KEY")
	}

	return &credentials.Credentials{
		AccessKey:  accessKey,
		Passphrase: passphrase,
		SigningKey: signingKey,
	}, nil
}

func isIgnorableSyncError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "sync /dev/stderr: inappropriate ioctl for device") ||
		strings.Contains(msg, "sync /dev/stdout: inappropriate ioctl for device")
}
