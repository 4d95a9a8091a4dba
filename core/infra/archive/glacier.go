package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/glacier"
	"github.com/aws/aws-sdk-go-v2/service/glacier/types"
	"github.com/aws/smithy-go"
	"github.com/cordum/coldgate/core/infra/logging"
	"github.com/cordum/coldgate/core/retrieval"
)

// The account that owns the credentials.
const accountID = "-"

const jobTypeArchiveRetrieval = "archive-retrieval"

// GlacierAPI is the subset of the Glacier client used here.
type GlacierAPI interface {
	InitiateJob(ctx context.Context, in *glacier.InitiateJobInput, optFns ...func(*glacier.Options)) (*glacier.InitiateJobOutput, error)
	GetJobOutput(ctx context.Context, in *glacier.GetJobOutputInput, optFns ...func(*glacier.Options)) (*glacier.GetJobOutputOutput, error)
	DeleteArchive(ctx context.Context, in *glacier.DeleteArchiveInput, optFns ...func(*glacier.Options)) (*glacier.DeleteArchiveOutput, error)
	UploadArchive(ctx context.Context, in *glacier.UploadArchiveInput, optFns ...func(*glacier.Options)) (*glacier.UploadArchiveOutput, error)
	DescribeVault(ctx context.Context, in *glacier.DescribeVaultInput, optFns ...func(*glacier.Options)) (*glacier.DescribeVaultOutput, error)
}

// Client talks to the archive service on behalf of the orchestrator.
type Client struct {
	api      GlacierAPI
	topicARN string
	tier     string
}

type Option func(*Client)

// WithTopic makes retrieval jobs report completion to topicARN.
func WithTopic(topicARN string) Option {
	return func(c *Client) { c.topicARN = topicARN }
}

// WithTier selects the retrieval tier (Expedited, Standard or Bulk).
func WithTier(tier string) Option {
	return func(c *Client) { c.tier = tier }
}

func NewClient(api GlacierAPI, opts ...Option) *Client {
	c := &Client{api: api}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// InitiateRetrieval starts an archive-retrieval job and returns its id.
func (c *Client) InitiateRetrieval(ctx context.Context, obj retrieval.ObjectID) (string, error) {
	params := &types.JobParameters{
		Type:      aws.String(jobTypeArchiveRetrieval),
		ArchiveId: aws.String(obj.Archive),
	}
	if c.topicARN != "" {
		params.SNSTopic = aws.String(c.topicARN)
	}
	if c.tier != "" {
		params.Tier = aws.String(c.tier)
	}
	out, err := c.api.InitiateJob(ctx, &glacier.InitiateJobInput{
		AccountId:     aws.String(accountID),
		VaultName:     aws.String(obj.Vault),
		JobParameters: params,
	})
	if err != nil {
		return "", describe("initiate job", err)
	}
	return aws.ToString(out.JobId), nil
}

// JobOutput opens the staged bytes of a finished retrieval job.
func (c *Client) JobOutput(ctx context.Context, vault, jobID string) (io.ReadCloser, error) {
	out, err := c.api.GetJobOutput(ctx, &glacier.GetJobOutputInput{
		AccountId: aws.String(accountID),
		VaultName: aws.String(vault),
		JobId:     aws.String(jobID),
	})
	if err != nil {
		return nil, describe("get job output", err)
	}
	if out.Body == nil {
		return io.NopCloser(bytes.NewReader(nil)), nil
	}
	return out.Body, nil
}

func (c *Client) DeleteArchive(ctx context.Context, obj retrieval.ObjectID) error {
	_, err := c.api.DeleteArchive(ctx, &glacier.DeleteArchiveInput{
		AccountId: aws.String(accountID),
		VaultName: aws.String(obj.Vault),
		ArchiveId: aws.String(obj.Archive),
	})
	if err != nil {
		return describe("delete archive", err)
	}
	return nil
}

// Upload stores data as a new archive in vault and returns its archive id.
func (c *Client) Upload(ctx context.Context, vault, description string, data []byte) (string, error) {
	in := &glacier.UploadArchiveInput{
		AccountId: aws.String(accountID),
		VaultName: aws.String(vault),
		Checksum:  aws.String(TreeHash(data)),
		Body:      bytes.NewReader(data),
	}
	if description != "" {
		in.ArchiveDescription = aws.String(description)
	}
	out, err := c.api.UploadArchive(ctx, in)
	if err != nil {
		return "", describe("upload archive", err)
	}
	logging.Info("archive", "archive uploaded", "vault", vault, "archive_id", aws.ToString(out.ArchiveId), "bytes", len(data))
	return aws.ToString(out.ArchiveId), nil
}

// VaultExists reports whether vault exists; a missing vault is not an error.
func (c *Client) VaultExists(ctx context.Context, vault string) (bool, error) {
	_, err := c.api.DescribeVault(ctx, &glacier.DescribeVaultInput{
		AccountId: aws.String(accountID),
		VaultName: aws.String(vault),
	})
	if err == nil {
		return true, nil
	}
	var notFound *types.ResourceNotFoundException
	if errors.As(err, &notFound) {
		return false, nil
	}
	return false, describe("describe vault", err)
}

// describe prefixes err with the operation and service error code when present.
func describe(op string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("glacier %s: %s: %w", op, apiErr.ErrorCode(), err)
	}
	return fmt.Errorf("glacier %s: %w", op, err)
}
