package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	log "github.com/sirupsen/logrus"

	"instafeed/internal/db"
	"instafeed/internal/instagram"
	"instafeed/internal/notify"
	"instafeed/internal/security"
	"instafeed/internal/shopify"
	"instafeed/internal/social"
	"instafeed/internal/sync"
)

type syncJob struct {
	Shop string `json:"shop"`
}

type worker struct {
	store     *social.Store
	tokens    *social.TokenSource
	locker    *sync.Locker
	runs      *sync.RunStore
	instagram *instagram.Client
}

func newWorker(ctx context.Context) (*worker, error) {
	ddb, err := db.NewDynamoClient(ctx)
	if err != nil {
		return nil, err
	}
	cipher, err := security.LoadTokenCipher(ctx)
	if err != nil {
		return nil, err
	}
	store, err := social.NewStore(ddb, cipher)
	if err != nil {
		return nil, err
	}
	return &worker{
		store:     store,
		tokens:    &social.TokenSource{Store: store, Refresher: &social.GraphRefresher{}},
		locker:    sync.NewLocker(ddb),
		runs:      sync.NewRunStore(ddb),
		instagram: &instagram.Client{},
	}, nil
}

func (w *worker) handler(ctx context.Context, sqsEvent events.SQSEvent) (events.SQSEventResponse, error) {
	failures := make([]events.SQSBatchItemFailure, 0)
	for _, rec := range sqsEvent.Records {
		if err := w.processOne(ctx, rec.Body); err != nil {
			log.WithField("msgId", rec.MessageId).Errorf("sync job failed: %v", err)
			failures = append(failures, events.SQSBatchItemFailure{ItemIdentifier: rec.MessageId})
		}
	}
	return events.SQSEventResponse{BatchItemFailures: failures}, nil
}

func (w *worker) processOne(ctx context.Context, body string) error {
	var job syncJob
	if err := json.Unmarshal([]byte(body), &job); err != nil {
		return fmt.Errorf("unmarshal sync job: %w", err)
	}
	if job.Shop == "" {
		return fmt.Errorf("sync job missing shop")
	}

	adminAcct, err := w.store.Get(ctx, job.Shop, social.ProviderShopify)
	if err != nil {
		if errors.Is(err, social.ErrNotConnected) {
			// Shop uninstalled since the job was enqueued.
			log.WithField("shop", job.Shop).Info("skipping sync, shop not installed")
			return nil
		}
		return err
	}
	admin := shopify.NewAdmin(job.Shop, adminAcct.AccessToken)

	p := &sync.Pipeline{
		Accounts:    w.tokens,
		Instagram:   w.instagram,
		Files:       sync.AdminFiles{Admin: admin},
		Metaobjects: sync.AdminMetaobjects{Admin: admin},
		Locks:       w.locker,
		Runs:        w.runs,
	}

	sum, err := p.Run(ctx, job.Shop)
	if err != nil {
		if errors.Is(err, sync.ErrLocked) {
			// Another run owns the shop; retrying this message buys nothing.
			log.WithField("shop", job.Shop).Info("skipping sync, lock held")
			return nil
		}
		notify.SyncFailure(ctx, job.Shop, err)
		return err
	}

	if sum.PostsFailed > 0 {
		notify.SyncFailure(ctx, job.Shop, fmt.Errorf("%d of %d posts failed", sum.PostsFailed, sum.PostsSeen))
	}
	log.WithFields(log.Fields{
		"shop":     job.Shop,
		"seen":     sum.PostsSeen,
		"uploaded": sum.PostsUploaded,
		"skipped":  sum.PostsSkipped,
		"failed":   sum.PostsFailed,
	}).Info("sync job finished")
	return nil
}

func main() {
	w, err := newWorker(context.Background())
	if err != nil {
		log.Fatalf("init sync worker: %v", err)
	}
	lambda.Start(w.handler)
}
