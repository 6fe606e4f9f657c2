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

// Package custodian verifies that pledged collateral actually sits in a
// custody wallet before the WSP earmarks it. Backed by Coinbase Prime.
package custodian

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"openoes-go/internal/models"

	"github.com/coinbase-samples/prime-sdk-go/client"
	"github.com/coinbase-samples/prime-sdk-go/credentials"
	"github.com/coinbase-samples/prime-sdk-go/portfolios"
	"github.com/coinbase-samples/prime-sdk-go/wallets"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
)

type Service struct {
	client        client.RestClient
	portfoliosSvc portfolios.PortfoliosService
	walletsSvc    wallets.WalletsService
	walletType    string
}

func NewService(creds *credentials.Credentials, walletType string) (*Service, error) {
	if walletType == "" {
		walletType = "VAULT"
	}

	httpClient, err := createCustomHttpClient()
	if err != nil {
		return nil, fmt.Errorf("unable to create custom http client: %w", err)
	}

	restClient := client.NewRestClient(creds, httpClient)

	return &Service{
		client:        restClient,
		portfoliosSvc: portfolios.NewPortfoliosService(restClient),
		walletsSvc:    wallets.NewWalletsService(restClient),
		walletType:    walletType,
	}, nil
}

func createCustomHttpClient() (http.Client, error) {
	tr := &http.Transport{
		ResponseHeaderTimeout: 30 * time.Second,
		Proxy:                 http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			KeepAlive: 30 * time.Second,
			DualStack: true,
			Timeout:   15 * time.Second,
		}).DialContext,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		MaxIdleConnsPerHost:   5,
		ExpectContinueTimeout: 5 * time.Second,
	}

	if err := http2.ConfigureTransport(tr); err != nil {
		return http.Client{}, err
	}

	return http.Client{
		Transport: tr,
		Timeout:   60 * time.Second,
	}, nil
}

func (s *Service) ListPortfolios(ctx context.Context) ([]models.Portfolio, error) {
	request := &portfolios.ListPortfoliosRequest{}

	response, err := s.portfoliosSvc.ListPortfolios(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("unable to list portfolios: %w", err)
	}

	portfolioList := make([]models.Portfolio, len(response.Portfolios))
	for i, p := range response.Portfolios {
		portfolioList[i] = models.Portfolio{
			Id:   p.Id,
			Name: p.Name,
		}
	}

	return portfolioList, nil
}

func (s *Service) FindDefaultPortfolio(ctx context.Context) (*models.Portfolio, error) {
	portfolioList, err := s.ListPortfolios(ctx)
	if err != nil {
		return nil, err
	}

	for _, portfolio := range portfolioList {
		if portfolio.Name == "Default Portfolio" {
			return &portfolio, nil
		}
	}

	return nil, fmt.Errorf("default portfolio not found")
}

func (s *Service) ListWallets(ctx context.Context, portfolioId string, symbols []string) ([]models.CustodianWallet, error) {
	request := &wallets.ListWalletsRequest{
		PortfolioId: portfolioId,
		Type:        s.walletType,
		Symbols:     symbols,
	}

	response, err := s.walletsSvc.ListWallets(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("unable to list wallets: %w", err)
	}

	walletList := make([]models.CustodianWallet, len(response.Wallets))
	for i, w := range response.Wallets {
		walletList[i] = models.CustodianWallet{
			Id:     w.Id,
			Name:   w.Name,
			Symbol: w.Symbol,
			Type:   w.Type,
		}
	}

	return walletList, nil
}

// VerifyCustodyWallet confirms a custody wallet exists for the asset before
// a pledge referencing it is published. Returns the wallet so the pledge
// can carry its id.
func (s *Service) VerifyCustodyWallet(ctx context.Context, portfolioId, asset string) (*models.CustodianWallet, error) {
	walletList, err := s.ListWallets(ctx, portfolioId, []string{asset})
	if err != nil {
		return nil, err
	}
	if len(walletList) == 0 {
		return nil, fmt.Errorf("no %s custody wallet found for %s in portfolio %s", s.walletType, asset, portfolioId)
	}

	wallet := walletList[0]
	zap.L().Debug("Custody wallet verified",
		zap.String("wallet_id", wallet.Id),
		zap.String("asset", asset),
		zap.String("type", wallet.Type))
	return &wallet, nil
}
