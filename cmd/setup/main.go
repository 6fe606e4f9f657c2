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

	"openoes-go/internal/acl"
	"openoes-go/internal/common"
	"openoes-go/internal/config"
	"openoes-go/internal/keyspace"
	"openoes-go/internal/streamlog"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var protocolStreams = []string{
	keyspace.CreditRequestStream,
	keyspace.CreditDecisionStream,
	keyspace.PledgeStream,
	keyspace.SettlementStream,
}

func printInstanceInfo(ctx context.Context, label string, rdb *redis.Client, isLast bool) error {
	info, err := streamlog.Info(ctx, rdb)
	if err != nil {
		return err
	}

	prefix := common.RowPrefix(false)
	fmt.Printf("\n┌─ Instance: %s\n", label)
	fmt.Printf("%s Version: %s\n", prefix, info.Version)
	fmt.Printf("%s Role: %s\n", prefix, info.Role)
	fmt.Printf("%s Clients: %s\n", prefix, info.ConnectedClients)
	fmt.Printf("%s Memory: %s\n", common.RowPrefix(isLast), info.UsedMemoryHuman)
	return nil
}

func validatePolicy(policyFile string) error {
	policy, err := acl.Load(policyFile)
	if err != nil {
		return err
	}

	inventoryKey, err := keyspace.InventoryKey("example-user", "BTC")
	if err != nil {
		return err
	}
	if err := policy.CheckExchangeBoundary(protocolStreams, inventoryKey); err != nil {
		return err
	}

	zap.L().Info("Access policy holds the Exchange boundary",
		zap.String("file", policyFile),
		zap.Int("principals", len(policy.Principals)))
	return nil
}

func main() {
	policyOnly := flag.Bool("policy-only", false, "Validate the ACL policy without touching the event log")
	flag.Parse()

	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	ctx := context.Background()

	if err := validatePolicy(cfg.Consumer.PolicyFile); err != nil {
		logger.Fatal("Access policy validation failed", zap.Error(err))
	}
	if *policyOnly {
		fmt.Println("Policy OK")
		return
	}

	connections := streamlog.NewManager(cfg.WSP, cfg.Replica)
	defer connections.Close()

	if err := connections.Ping(ctx); err != nil {
		logger.Fatal("Event log unreachable", zap.Error(err))
	}

	// The mirror's consumer group lives on the instance the Exchange reads.
	eventLog := streamlog.NewClient(connections.Replica())
	for _, stream := range protocolStreams {
		if err := eventLog.EnsureGroup(ctx, stream, cfg.Consumer.Group); err != nil {
			logger.Fatal("Failed to ensure consumer group",
				zap.String("stream", stream),
				zap.String("group", cfg.Consumer.Group),
				zap.Error(err))
		}
		logger.Info("Consumer group ready",
			zap.String("stream", stream),
			zap.String("group", cfg.Consumer.Group))
	}

	common.PrintReportHeader("EVENT LOG SETUP")
	if err := printInstanceInfo(ctx, "WSP (authoritative)", connections.WSP(), false); err != nil {
		logger.Warn("Failed to fetch WSP instance info", zap.Error(err))
	}
	if err := printInstanceInfo(ctx, "Replica (stream-writeable)", connections.Replica(), true); err != nil {
		logger.Warn("Failed to fetch replica instance info", zap.Error(err))
	}
	common.PrintReportFooter(fmt.Sprintf("SUMMARY: %d streams ready for group %q", len(protocolStreams), cfg.Consumer.Group))
}
