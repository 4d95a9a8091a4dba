package archive

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/glacier"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/cordum/coldgate/core/infra/config"
)

// Clients bundles the AWS service clients the service talks to.
type Clients struct {
	Glacier *glacier.Client
	SNS     *sns.Client
	SQS     *sqs.Client
}

// NewClients builds service clients from static credentials. A non-empty
// endpoint overrides every service URL (for local emulators).
func NewClients(ctx context.Context, cfg config.AWSConfig) (Clients, error) {
	creds := credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	awscfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithCredentialsProvider(creds),
		awsconfig.WithRegion(cfg.Region),
	)
	if err != nil {
		return Clients{}, fmt.Errorf("load aws config: %w", err)
	}
	var endpoint *string
	if cfg.Endpoint != "" {
		endpoint = aws.String(cfg.Endpoint)
	}
	return Clients{
		Glacier: glacier.NewFromConfig(awscfg, func(o *glacier.Options) {
			o.BaseEndpoint = endpoint
		}),
		SNS: sns.NewFromConfig(awscfg, func(o *sns.Options) {
			o.BaseEndpoint = endpoint
		}),
		SQS: sqs.NewFromConfig(awscfg, func(o *sqs.Options) {
			o.BaseEndpoint = endpoint
		}),
	}, nil
}
