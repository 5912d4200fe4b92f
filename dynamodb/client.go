package dynamodb

import (
	"context"
	"fmt"
	log "log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

// Client is the part of the DynamoDB API the dialect uses. *dynamodb.Client implements it.
type Client interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	ExecuteStatement(ctx context.Context, params *dynamodb.ExecuteStatementInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ExecuteStatementOutput, error)
}

var _ Client = (*dynamodb.Client)(nil)

// Options configures the client and the dialect.
type Options struct {
	Region string
	// Endpoint overrides the service endpoint, e.g. for DynamoDB Local or LocalStack.
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string

	// ConsistentRead makes record and association reads strongly consistent.
	ConsistentRead bool
	// SequenceTable stores the counters of sequence id sources. Defaults to "sequences".
	SequenceTable string
	// ScanPageSize is the Limit of each Scan page; zero lets DynamoDB size pages.
	ScanPageSize int32
	// VerifyTable is described at open time to fail fast on bad credentials or endpoints.
	VerifyTable string
}

const (
	defaultSequenceTable = "sequences"
	sequenceKeyColumn    = "sequence_name"
	sequenceValueColumn  = "next_val"
)

func (o Options) withDefaults() Options {
	if o.SequenceTable == "" {
		o.SequenceTable = defaultSequenceTable
	}
	return o
}

// OpenClient loads the default AWS configuration, overridden by options, and returns a client.
func OpenClient(ctx context.Context, options Options) (*dynamodb.Client, error) {
	if options.Region == "" {
		return nil, fmt.Errorf("region is required")
	}
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(options.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	if options.AccessKeyID != "" && options.SecretAccessKey != "" {
		cfg.Credentials = credentials.NewStaticCredentialsProvider(options.AccessKeyID, options.SecretAccessKey, "")
	}

	var clientOptions []func(*dynamodb.Options)
	if options.Endpoint != "" {
		clientOptions = append(clientOptions, func(o *dynamodb.Options) {
			o.BaseEndpoint = aws.String(options.Endpoint)
		})
	}
	log.Info("Opening DynamoDB client", "region", options.Region, "endpoint", options.Endpoint)
	client := dynamodb.NewFromConfig(cfg, clientOptions...)

	if options.VerifyTable != "" {
		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if _, err := client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(options.VerifyTable)}); err != nil {
			return nil, fmt.Errorf("failed to connect to DynamoDB table %s: %w", options.VerifyTable, err)
		}
	}
	return client, nil
}
