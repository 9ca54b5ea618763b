package main

import (
	"context"

	"github.com/aws/aws-lambda-go/lambda"
	log "github.com/sirupsen/logrus"

	"instafeed/internal/handlers"
)

func main() {
	h, err := handlers.NewSocialHandler(context.Background())
	if err != nil {
		log.Fatalf("init social handler: %v", err)
	}
	lambda.Start(h.HandleRequest)
}
