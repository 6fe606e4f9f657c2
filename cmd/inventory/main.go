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
	"fmt"

	"openoes-go/internal/common"
	"openoes-go/internal/config"
	"openoes-go/internal/database"
	"openoes-go/internal/models"

	"go.uber.org/zap"
)

func formatEntryId(entryId string) string {
	if entryId == "" {
		return "none"
	}
	return entryId
}

func printBalance(balance models.InventoryBalance, isLast bool) {
	fmt.Printf("%s %-10s: %20s (v%d, entry: %s, updated: %s)\n",
		common.RowPrefix(isLast),
		balance.Asset,
		balance.Balance.String(),
		balance.Version,
		formatEntryId(balance.LastEntryId),
		balance.UpdatedAt.Format("2006-01-02 15:04:05"))
}

func printBalances(userId string, balances []models.InventoryBalance) {
	fmt.Printf("\n┌─ User: %s\n", userId)
	fmt.Printf("│  Assets: %d\n", len(balances))
	common.PrintGroupRule()
	for i, balance := range balances {
		printBalance(balance, i == len(balances)-1)
	}
}

func printReports(reports []models.SettlementReport) {
	for i, report := range reports {
		fmt.Printf("%s %s/%s delta %s (source: %s, at: %s)\n",
			common.RowPrefix(i == len(reports)-1),
			report.UserId,
			report.Asset,
			report.Amount.String(),
			report.SourceEventId,
			report.GeneratedAt.Format("2006-01-02 15:04:05"))
	}
}

func runBalanceReport(ctx context.Context, dbService *database.Service, userId string, logger *zap.Logger) {
	balances, err := dbService.ListBalances(ctx, userId)
	if err != nil {
		logger.Fatal("Failed to list balances", zap.String("user_id", userId), zap.Error(err))
	}

	common.PrintReportHeader("CREDIT INVENTORY REPORT")
	if len(balances) == 0 {
		fmt.Printf("\nNo mirrored inventory for user %s\n", userId)
	} else {
		printBalances(userId, balances)
	}
	common.PrintReportFooter(fmt.Sprintf("SUMMARY: %d mirrored balances for user %s", len(balances), userId))
}

func runReportListing(ctx context.Context, dbService *database.Service, limit int, logger *zap.Logger) {
	reports, err := dbService.ListSettlementReports(ctx, limit)
	if err != nil {
		logger.Fatal("Failed to list settlement reports", zap.Error(err))
	}

	common.PrintReportHeader("SETTLEMENT REPORTS")
	if len(reports) == 0 {
		fmt.Println("\nNo settlement discrepancies on record")
	} else {
		fmt.Println()
		printReports(reports)
	}
	common.PrintReportFooter(fmt.Sprintf("SUMMARY: %d settlement reports (newest first)", len(reports)))
}

func main() {
	userFlag := flag.String("user", "", "User id to report mirrored balances for")
	reportsFlag := flag.Bool("reports", false, "List settlement discrepancy reports instead of balances")
	limitFlag := flag.Int("limit", 50, "Maximum number of settlement reports to list")
	flag.Parse()

	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	ctx := context.Background()

	logger.Info("Connecting to mirror database", zap.String("path", cfg.Database.Path))
	dbService, err := common.InitializeDatabaseOnly(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer dbService.Close()

	if *reportsFlag {
		runReportListing(ctx, dbService, *limitFlag, logger)
		return
	}

	if *userFlag == "" {
		logger.Fatal("Required flag: --user (or --reports for settlement reports)")
	}
	runBalanceReport(ctx, dbService, *userFlag, logger)
}
