package main

import (
	"context"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	log "github.com/sirupsen/logrus"

	"instafeed/internal/db"
	"instafeed/internal/security"
	"instafeed/internal/social"
)

const refreshWindow = 7 * 24 * time.Hour

type refresher struct {
	store *social.Store
	graph *social.GraphRefresher
}

// handler runs on an EventBridge schedule: refresh every provider credential
// whose expiry falls inside the window, one at a time. A single failed
// account is logged and skipped so one revoked token cannot stall the rest.
func (r *refresher) handler(ctx context.Context, _ events.CloudWatchEvent) (map[string]any, error) {
	accounts, err := r.store.ListExpiring(ctx, time.Now().UTC().Add(refreshWindow))
	if err != nil {
		return nil, err
	}

	refreshed, failed := 0, 0
	for _, acct := range accounts {
		if acct.Provider == social.ProviderShopify {
			continue
		}
		res, err := r.graph.Refresh(ctx, acct.Provider, acct.AccessToken)
		if err != nil {
			failed++
			log.WithFields(log.Fields{"shop": acct.Shop, "provider": acct.Provider}).
				Warnf("token refresh failed: %v", err)
			continue
		}
		acct.AccessToken = res.AccessToken
		acct.ExpiresAt = res.ExpiresAt
		if err := r.store.Upsert(ctx, acct); err != nil {
			failed++
			log.WithFields(log.Fields{"shop": acct.Shop, "provider": acct.Provider}).
				Warnf("persist refreshed token failed: %v", err)
			continue
		}
		refreshed++
	}

	log.WithFields(log.Fields{"candidates": len(accounts), "refreshed": refreshed, "failed": failed}).
		Info("token refresh sweep finished")
	return map[string]any{
		"ok":         failed == 0,
		"candidates": len(accounts),
		"refreshed":  refreshed,
		"failed":     failed,
	}, nil
}

func main() {
	ctx := context.Background()

	ddb, err := db.NewDynamoClient(ctx)
	if err != nil {
		log.Fatalf("init dynamo client: %v", err)
	}
	cipher, err := security.LoadTokenCipher(ctx)
	if err != nil {
		log.Fatalf("load token cipher: %v", err)
	}
	store, err := social.NewStore(ddb, cipher)
	if err != nil {
		log.Fatalf("init social store: %v", err)
	}

	r := &refresher{store: store, graph: &social.GraphRefresher{}}
	lambda.Start(r.handler)
}
