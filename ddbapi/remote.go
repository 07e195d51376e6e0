package ddbapi

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodbstreams"
)

// RemoteOptions configures a client for a real or emulated DynamoDB endpoint.
type RemoteOptions struct {
	// Profile is the shared config profile. Default: SDK default chain
	Profile string

	// Region overrides the profile region.
	Region string

	// Endpoint overrides the service endpoint, e.g. a local dynamock server.
	Endpoint string

	// Static credentials, used when both are set. Handy against a local
	// endpoint where no AWS credentials exist.
	AccessKeyID     string
	SecretAccessKey string
}

// NewRemote builds a *dynamodb.Client from the default AWS config chain.
func NewRemote(ctx context.Context, opts RemoteOptions) (*dynamodb.Client, error) {
	cfg, err := opts.load(ctx)
	if err != nil {
		return nil, err
	}
	return dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
	}), nil
}

// NewRemoteStreams builds a DynamoDB Streams client with the same options,
// for reading the stream of a real table or of a dynamock server.
func NewRemoteStreams(ctx context.Context, opts RemoteOptions) (*dynamodbstreams.Client, error) {
	cfg, err := opts.load(ctx)
	if err != nil {
		return nil, err
	}
	return dynamodbstreams.NewFromConfig(cfg, func(o *dynamodbstreams.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
	}), nil
}

func (opts RemoteOptions) load(ctx context.Context) (aws.Config, error) {
	var loadOpts []func(*config.LoadOptions) error
	if opts.Profile != "" {
		loadOpts = append(loadOpts, config.WithSharedConfigProfile(opts.Profile))
	}
	if opts.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	return cfg, nil
}
