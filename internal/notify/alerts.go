package notify

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	log "github.com/sirupsen/logrus"
)

// SyncFailure publishes a failed-run alert to the ops topic. Alerting must
// never take a sync down with it, so every failure path only logs.
func SyncFailure(ctx context.Context, shop string, runErr error) {
	topic := os.Getenv("ALERTS_TOPIC_ARN")
	if topic == "" {
		return
	}

	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		log.WithError(err).Warn("alerts: load aws config")
		return
	}

	msg := fmt.Sprintf("Instagram sync failed\nshop: %s\nerror: %v", shop, runErr)
	_, err = sns.NewFromConfig(cfg).Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(topic),
		Subject:  aws.String("instafeed sync failure: " + shop),
		Message:  aws.String(msg),
	})
	if err != nil {
		log.WithError(err).WithField("shop", shop).Warn("alerts: publish failed")
	}
}
