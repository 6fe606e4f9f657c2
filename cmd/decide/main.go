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

	"go.uber.org/zap"
)

func main() {
	requestId := flag.String("request", "", "Credit request id (required)")
	outcome := flag.String("outcome", "", "Decision outcome: accepted or rejected (required)")
	reason := flag.String("reason", "", "Reject reason (required when outcome is rejected)")
	flag.Parse()

	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	if *requestId == "" || *outcome == "" {
		logger.Fatal("Required flags: --request, --outcome")
	}

	ctx := context.Background()

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	// Decisions are published on behalf of the WSP principal; the mirror
	// consumer credits the inventory only when it observes the event.
	publisher := wsp.NewPublisher(wsp.PublisherConfig{
		Log:   streamlog.NewClient(services.Connections.WSP()),
		Store: services.DbService,
	})

	entryId, err := publisher.PublishDecision(ctx, *requestId, *outcome, *reason)
	if err != nil {
		logger.Fatal("Failed to publish decision",
			zap.String("request_id", *requestId),
			zap.String("outcome", *outcome),
			zap.Error(err))
	}
	fmt.Printf("Decision %s published for request %s (entry %s)\n", *outcome, *requestId, entryId)
}
