// Copyright 2025 Certen Protocol
//
// Checkpoint stream client: polls a checkpoint service over HTTP and
// resolves the sequence number a fresh indexer should bootstrap from.
// Grounded on the chain observer's polling-interval/timeout configuration
// shape, adapted from RPC block-polling to checkpoint-polling.

package chainclient

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/certen/isafe-indexer/pkg/driver"
	"github.com/certen/isafe-indexer/pkg/isafe"
)

// Config configures Client.
type Config struct {
	NodeURL         string
	CheckpointURL   string
	PackageAddress  string
	PollingInterval time.Duration
	RequestTimeout  time.Duration
}

// DefaultConfig returns sane polling defaults.
func DefaultConfig() Config {
	return Config{
		PollingInterval: 2 * time.Second,
		RequestTimeout:  10 * time.Second,
	}
}

// Client streams checkpoints from a node's checkpoint endpoint and
// implements both driver.Source and driver.Locator.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *log.Logger
}

// New builds a Client.
func New(cfg Config, opts ...Option) *Client {
	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		logger:     log.New(os.Stderr, "[isafe-chainclient] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Option configures a Client.
type Option func(*Client)

// WithLogger overrides the Client's logger.
func WithLogger(logger *log.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithHTTPClient overrides the underlying *http.Client, useful for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// checkpointEnvelope is the JSON wire shape a checkpoint endpoint returns:
// a sequence number, a millisecond timestamp, and the transactions it
// committed, each carrying base64-encoded canonical event bytes.
type checkpointEnvelope struct {
	Sequence     uint64                  `json:"sequence"`
	TimestampMS  int64                   `json:"timestampMs"`
	Transactions []transactionEnvelope   `json:"transactions"`
}

type transactionEnvelope struct {
	Digest string           `json:"digest"`
	Events []eventEnvelope  `json:"events"`
}

type eventEnvelope struct {
	PackageID string `json:"packageId"`
	TypeName  string `json:"typeName"`
	Contents  string `json:"contents"` // base64
}

// Checkpoints implements driver.Source, polling CheckpointURL for
// checkpoints after the last sequence number it observed and pushing them
// onto the returned channel in order.
func (c *Client) Checkpoints(ctx context.Context) (<-chan driver.Checkpoint, <-chan error) {
	out := make(chan driver.Checkpoint)
	errs := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errs)

		var lastSeq uint64
		var haveSeq bool
		ticker := time.NewTicker(c.cfg.PollingInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			after := uint64(0)
			if haveSeq {
				after = lastSeq
			}
			envelopes, err := c.fetchCheckpoints(ctx, after)
			if err != nil {
				c.logger.Printf("checkpoint poll failed: %v", err)
				continue
			}

			for _, env := range envelopes {
				cp, err := toCheckpoint(env)
				if err != nil {
					errs <- fmt.Errorf("decode checkpoint %d: %w", env.Sequence, err)
					return
				}
				select {
				case out <- cp:
					lastSeq = env.Sequence
					haveSeq = true
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, errs
}

func (c *Client) fetchCheckpoints(ctx context.Context, afterSequence uint64) ([]checkpointEnvelope, error) {
	url := fmt.Sprintf("%s?after=%d", strings.TrimRight(c.cfg.CheckpointURL, "/"), afterSequence)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("checkpoint endpoint returned %d: %s", resp.StatusCode, string(body))
	}

	var envelopes []checkpointEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelopes); err != nil {
		return nil, fmt.Errorf("invalid checkpoint response: %w", err)
	}
	return envelopes, nil
}

func toCheckpoint(env checkpointEnvelope) (driver.Checkpoint, error) {
	cp := driver.Checkpoint{
		Sequence:    env.Sequence,
		TimestampMS: env.TimestampMS,
	}
	for _, txEnv := range env.Transactions {
		tx := driver.CheckpointTransaction{Digest: txEnv.Digest}
		for _, evEnv := range txEnv.Events {
			pkg, err := isafe.ParseAddress(evEnv.PackageID)
			if err != nil {
				return driver.Checkpoint{}, fmt.Errorf("malformed package id %q: %w", evEnv.PackageID, err)
			}
			contents, err := base64.StdEncoding.DecodeString(evEnv.Contents)
			if err != nil {
				return driver.Checkpoint{}, fmt.Errorf("malformed event contents: %w", err)
			}
			tx.Events = append(tx.Events, isafe.RawEvent{
				PackageID: pkg,
				TypeName:  evEnv.TypeName,
				Contents:  contents,
			})
		}
		cp.Transactions = append(cp.Transactions, tx)
	}
	return cp, nil
}

// nodeStatus is the JSON shape the full-node status endpoint returns.
type nodeStatus struct {
	LatestCheckpointSequence uint64 `json:"latestCheckpointSequence"`
}

// packageDeployment is the JSON shape the node's package-lookup endpoint
// returns: the checkpoint sequence number at which a package was
// published.
type packageDeployment struct {
	DeployedAtCheckpoint uint64 `json:"deployedAtCheckpoint"`
	Found                bool   `json:"found"`
}

// InitialSequence implements driver.Locator: it asks the node where the
// configured package was deployed, and falls back to the chain's current
// head if the node has no record of it (e.g. a devnet redeploy).
func (c *Client) InitialSequence(ctx context.Context) (uint64, error) {
	deployment, err := c.fetchPackageDeployment(ctx)
	if err == nil && deployment.Found {
		return deployment.DeployedAtCheckpoint, nil
	}
	if err != nil {
		c.logger.Printf("package deployment lookup failed, falling back to chain head: %v", err)
	}

	status, err := c.fetchNodeStatus(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetch chain head: %w", err)
	}
	return status.LatestCheckpointSequence, nil
}

func (c *Client) fetchPackageDeployment(ctx context.Context) (packageDeployment, error) {
	url := fmt.Sprintf("%s/packages/%s", strings.TrimRight(c.cfg.NodeURL, "/"), c.cfg.PackageAddress)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return packageDeployment{}, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return packageDeployment{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return packageDeployment{}, fmt.Errorf("node returned %d", resp.StatusCode)
	}

	var dep packageDeployment
	if err := json.NewDecoder(resp.Body).Decode(&dep); err != nil {
		return packageDeployment{}, fmt.Errorf("invalid package deployment response: %w", err)
	}
	return dep, nil
}

func (c *Client) fetchNodeStatus(ctx context.Context) (nodeStatus, error) {
	url := strings.TrimRight(c.cfg.NodeURL, "/") + "/status"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nodeStatus{}, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nodeStatus{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nodeStatus{}, fmt.Errorf("node returned %d", resp.StatusCode)
	}

	var status nodeStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nodeStatus{}, fmt.Errorf("invalid node status response: %w", err)
	}
	return status, nil
}
