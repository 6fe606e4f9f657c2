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
	"openoes-go/internal/streamlog"
	"openoes-go/internal/wsp"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type requestFlags struct {
	userId        string
	asset         string
	amount        string
	custodianId   string
	chain         string
	address       string
	releasePledge string
	settle        bool
	reported      string
}

func parseFlags() *requestFlags {
	f := &requestFlags{}
	flag.StringVar(&f.userId, "user", "", "User id (required for submit and settle)")
	flag.StringVar(&f.asset, "asset", "", "Asset symbol, e.g. BTC (required for submit and settle)")
	flag.StringVar(&f.amount, "amount", "", "Credit amount to request (required for submit)")
	flag.StringVar(&f.custodianId, "custodian-id", "", "Custodian wallet id backing the pledge (optional)")
	flag.StringVar(&f.chain, "chain", "", "Chain the collateral lives on (optional)")
	flag.StringVar(&f.address, "address", "", "Custody address (optional)")
	flag.StringVar(&f.releasePledge, "release-pledge", "", "Release the pledge with this id instead of submitting")
	flag.BoolVar(&f.settle, "settle", false, "Publish a settlement figure instead of submitting")
	flag.StringVar(&f.reported, "reported", "", "Reported custody balance (required with --settle)")
	flag.Parse()
	return f
}

func main() {
	flags := parseFlags()

	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	ctx := context.Background()

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	// The WSP principal appends to the authoritative instance.
	publisherCfg := wsp.PublisherConfig{
		Log:       streamlog.NewClient(services.Connections.WSP()),
		Store:     services.DbService,
		Custodian: services.CustodianService,
	}
	if services.DefaultPortfolio != nil {
		publisherCfg.Portfolio = services.DefaultPortfolio.Id
	}
	publisher := wsp.NewPublisher(publisherCfg)

	switch {
	case flags.releasePledge != "":
		runRelease(ctx, publisher, flags.releasePledge, logger)
	case flags.settle:
		runSettle(ctx, publisher, flags, logger)
	default:
		runSubmit(ctx, publisher, flags, logger)
	}
}

func runSubmit(ctx context.Context, publisher *wsp.Publisher, flags *requestFlags, logger *zap.Logger) {
	if flags.userId == "" || flags.asset == "" || flags.amount == "" {
		logger.Fatal("Required flags: --user, --asset, --amount")
	}
	amount, err := decimal.NewFromString(flags.amount)
	if err != nil {
		logger.Fatal("Invalid amount", zap.String("amount", flags.amount), zap.Error(err))
	}

	requestId, err := publisher.SubmitCreditRequest(ctx, wsp.SubmitCreditRequestParams{
		UserId:      flags.userId,
		Asset:       flags.asset,
		Amount:      amount,
		CustodianId: flags.custodianId,
		Chain:       flags.chain,
		Address:     flags.address,
	})
	if err != nil {
		logger.Fatal("Failed to submit credit request", zap.Error(err))
	}
	fmt.Printf("Credit request submitted: %s\n", requestId)
}

func runRelease(ctx context.Context, publisher *wsp.Publisher, pledgeId string, logger *zap.Logger) {
	entryId, err := publisher.ReleasePledge(ctx, pledgeId)
	if err != nil {
		logger.Fatal("Failed to release pledge", zap.String("pledge_id", pledgeId), zap.Error(err))
	}
	fmt.Printf("Pledge %s released (entry %s)\n", pledgeId, entryId)
}

func runSettle(ctx context.Context, publisher *wsp.Publisher, flags *requestFlags, logger *zap.Logger) {
	if flags.userId == "" || flags.asset == "" || flags.reported == "" {
		logger.Fatal("Required flags with --settle: --user, --asset, --reported")
	}
	reported, err := decimal.NewFromString(flags.reported)
	if err != nil {
		logger.Fatal("Invalid reported balance", zap.String("reported", flags.reported), zap.Error(err))
	}

	entryId, err := publisher.EmitSettlement(ctx, flags.userId, flags.asset, reported)
	if err != nil {
		logger.Fatal("Failed to publish settlement", zap.Error(err))
	}
	fmt.Printf("Settlement published for %s/%s: %s (entry %s)\n", flags.userId, flags.asset, reported.String(), entryId)
}
