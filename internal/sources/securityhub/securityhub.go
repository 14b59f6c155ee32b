// Package securityhub polls AWS Security Hub for ASFF findings and feeds
// them into the ingestion queue. The poller is a pull source for accounts
// that cannot push to the ingest endpoint; payloads go through the same
// adapter path as pushed batches.
package securityhub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/securityhub"
	"github.com/aws/aws-sdk-go-v2/service/securityhub/types"
	"github.com/cenkalti/backoff/v4"

	"github.com/secfuse/secfuse/internal/queue"
)

const (
	sourceName = "asff"
	pageSize   = 100
)

type Config struct {
	Region       string
	PollInterval time.Duration
	Lookback     time.Duration
}

// Client is the slice of the Security Hub API the poller uses.
type Client interface {
	GetFindings(ctx context.Context, in *securityhub.GetFindingsInput, opts ...func(*securityhub.Options)) (*securityhub.GetFindingsOutput, error)
}

// Poller pulls active findings updated since the last poll.
type Poller struct {
	client   Client
	queue    *queue.Queue
	interval time.Duration
	lookback time.Duration
	logger   *slog.Logger

	lastPoll time.Time
}

func New(ctx context.Context, cfg Config, q *queue.Queue, logger *slog.Logger) (*Poller, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
	)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	interval := cfg.PollInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	lookback := cfg.Lookback
	if lookback <= 0 {
		lookback = time.Hour
	}

	return &Poller{
		client:   securityhub.NewFromConfig(awsCfg),
		queue:    q,
		interval: interval,
		lookback: lookback,
		logger:   logger,
	}, nil
}

// Run polls until the context is cancelled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	since := p.lastPoll
	if since.IsZero() {
		since = time.Now().Add(-p.lookback)
	}
	start := time.Now().UTC()

	count, err := p.pollSince(ctx, since)
	if err != nil {
		p.logger.Error("security hub poll failed", "error", err)
		return
	}

	p.lastPoll = start
	p.logger.Info("security hub poll finished", "findings", count, "since", since)
}

// pollSince pages through findings updated at or after the watermark. Each
// page enqueues as one ASFF document. Transient API errors retry with
// exponential backoff inside a bounded window.
func (p *Poller) pollSince(ctx context.Context, since time.Time) (int, error) {
	filters := &types.AwsSecurityFindingFilters{
		UpdatedAt: []types.DateFilter{{
			Start: aws.String(since.UTC().Format(time.RFC3339)),
			End:   aws.String(time.Now().UTC().Format(time.RFC3339)),
		}},
		RecordState: []types.StringFilter{{
			Comparison: types.StringFilterComparisonEquals,
			Value:      aws.String("ACTIVE"),
		}},
	}

	var nextToken *string
	total := 0
	for {
		var out *securityhub.GetFindingsOutput

		bo := backoff.NewExponentialBackOff()
		bo.MaxElapsedTime = 2 * time.Minute
		err := backoff.Retry(func() error {
			var err error
			out, err = p.client.GetFindings(ctx, &securityhub.GetFindingsInput{
				Filters:    filters,
				MaxResults: aws.Int32(pageSize),
				NextToken:  nextToken,
			})
			return err
		}, backoff.WithContext(bo, ctx))
		if err != nil {
			return total, fmt.Errorf("getting findings: %w", err)
		}

		if len(out.Findings) > 0 {
			payload, err := marshalDocument(out.Findings)
			if err != nil {
				return total, err
			}
			if _, err := p.queue.Enqueue(ctx, sourceName, payload); err != nil {
				return total, fmt.Errorf("enqueueing page: %w", err)
			}
			total += len(out.Findings)
		}

		if out.NextToken == nil {
			return total, nil
		}
		nextToken = out.NextToken
	}
}

// marshalDocument wraps a page of SDK findings in the {"Findings": [...]}
// envelope the ASFF adapter parses.
func marshalDocument(findings []types.AwsSecurityFinding) ([]byte, error) {
	raw, err := json.Marshal(findings)
	if err != nil {
		return nil, fmt.Errorf("marshaling findings page: %w", err)
	}
	doc := struct {
		Findings json.RawMessage `json:"Findings"`
	}{Findings: raw}
	return json.Marshal(doc)
}
