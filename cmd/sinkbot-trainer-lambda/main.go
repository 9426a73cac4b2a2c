// Command sinkbot-trainer-lambda runs the batch trainer as an AWS Lambda
// function, typically on an EventBridge schedule. Configuration comes from
// the file named by SINKBOT_CONFIG, if set, and the environment.
package main

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/sinkbot-iot/sinkbot/internal/app"
	"github.com/sinkbot-iot/sinkbot/internal/log"
	"github.com/sinkbot-iot/sinkbot/pkg/config"
)

func handler(ctx context.Context, event events.CloudWatchEvent) error {
	logger := log.Named("trainer-lambda")
	logger.Infof("training triggered by %s event %s", event.Source, event.ID)

	return app.TrainOnce(ctx, config.NewYAMLProvider(os.Getenv("SINKBOT_CONFIG")), logger)
}

func main() {
	if err := log.Init(os.Getenv("SINKBOT_DEBUG") != ""); err != nil {
		panic(err)
	}
	defer log.Sync()

	lambda.Start(handler)
}
