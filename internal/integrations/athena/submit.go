package athena

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	"github.com/aws/aws-sdk-go-v2/service/athena/types"
	"github.com/google/uuid"
)

// QueryAPI is the slice of the Athena client used here.
type QueryAPI interface {
	StartQueryExecution(ctx context.Context, params *athena.StartQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.StartQueryExecutionOutput, error)
}

// Job is a single query to hand to the engine.
type Job struct {
	Query          string
	Catalog        string
	Database       string
	OutputLocation string
	WorkGroup      string
	// RequestToken is sent as the idempotency token. Empty means a fresh
	// token per call, so every Submit starts a new execution.
	RequestToken string
}

type Submitter struct {
	api QueryAPI
}

func NewSubmitter(api QueryAPI) *Submitter {
	return &Submitter{api: api}
}

// NewClient builds an Athena client from the default AWS credential chain.
func NewClient(ctx context.Context, region string, httpClient *http.Client) (*athena.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if httpClient != nil {
		opts = append(opts, awsconfig.WithHTTPClient(httpClient))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return athena.NewFromConfig(cfg), nil
}

func (j Job) requestToken() string {
	if j.RequestToken != "" {
		return j.RequestToken
	}
	return uuid.NewString()
}

// Submit starts the query and returns its execution id without waiting for
// completion. Failures are returned with the underlying cause; there is no retry.
func (s *Submitter) Submit(ctx context.Context, job Job) (string, error) {
	if job.Query == "" {
		return "", errors.New("empty query")
	}
	input := &athena.StartQueryExecutionInput{
		QueryString:        aws.String(job.Query),
		ClientRequestToken: aws.String(job.requestToken()),
		QueryExecutionContext: &types.QueryExecutionContext{
			Catalog:  aws.String(job.Catalog),
			Database: aws.String(job.Database),
		},
		ResultConfiguration: &types.ResultConfiguration{
			OutputLocation: aws.String(job.OutputLocation),
		},
	}
	if job.WorkGroup != "" {
		input.WorkGroup = aws.String(job.WorkGroup)
	}

	out, err := s.api.StartQueryExecution(ctx, input)
	if err != nil {
		log.Printf("athena submit error catalog=%s database=%s: %v", job.Catalog, job.Database, err)
		return "", fmt.Errorf("starting query execution: %w", err)
	}
	id := aws.ToString(out.QueryExecutionId)
	if id == "" {
		return "", errors.New("starting query execution: no execution id returned")
	}
	return id, nil
}
