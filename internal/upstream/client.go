// Package upstream implements the signed client for the external item-lookup
// API and the closed error taxonomy its callers branch on.
package upstream

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/go-resty/resty/v2"
	"github.com/timmy/restock/internal/breaker"
	"github.com/timmy/restock/internal/domain"
)

// sha256 of an empty payload, used when a request carries no body.
const emptyPayloadHash = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

// signingRegionKey carries the per-marketplace signing region from FetchItems
// to the pre-request signing hook.
type signingRegionKey struct{}

// ClientConfig holds configuration for the upstream client.
type ClientConfig struct {
	AccessKey      string
	SecretKey      string
	Service        string // SigV4 service name
	RequestTimeout time.Duration
	Marketplaces   map[string]domain.Marketplace
}

// Client performs authenticated item-lookup calls. Every request goes through
// the shared circuit breaker; outcomes are returned, never logged here.
type Client struct {
	http    *resty.Client
	creds   aws.CredentialsProvider
	signer  *v4.Signer
	service string
	breaker *breaker.CircuitBreaker
	markets map[string]domain.Marketplace
}

// NewClient creates an upstream client sharing the given circuit breaker.
func NewClient(cfg *ClientConfig, cb *breaker.CircuitBreaker) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	service := cfg.Service
	if service == "" {
		service = "ProductAdvertisingAPI"
	}

	c := &Client{
		creds:   credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		signer:  v4.NewSigner(),
		service: service,
		breaker: cb,
		markets: cfg.Marketplaces,
	}

	httpClient := resty.New()
	httpClient.SetHeader("Content-Type", "application/json")
	httpClient.SetTimeout(timeout)
	httpClient.SetPreRequestHook(func(_ *resty.Client, req *http.Request) error {
		return c.signRequest(req)
	})
	c.http = httpClient

	return c
}

// Breaker exposes the shared circuit breaker for advisory state inspection.
func (c *Client) Breaker() *breaker.CircuitBreaker {
	return c.breaker
}

// ResolveMarketplace looks up the endpoint/region/tag for a marketplace code.
func (c *Client) ResolveMarketplace(code string) (domain.Marketplace, error) {
	mkt, ok := c.markets[code]
	if !ok {
		return domain.Marketplace{}, fmt.Errorf("unknown marketplace %q", code)
	}
	mkt.Code = code
	return mkt, nil
}

// FetchItems performs one signed item-lookup call for the given ids through
// the circuit breaker. A nil error with an empty batch means the upstream
// answered but found none of the requested items.
func (c *Client) FetchItems(ctx context.Context, ids []string, marketplace string, resources []Resource) (*ItemBatch, error) {
	if len(ids) == 0 {
		return nil, newError(KindInvalidParameter, "", "no item ids given")
	}
	mkt, err := c.ResolveMarketplace(marketplace)
	if err != nil {
		return nil, err
	}
	if len(resources) == 0 {
		resources = DefaultResources
	}

	var batch *ItemBatch
	err = c.breaker.Execute(ctx, func(ctx context.Context) error {
		b, fetchErr := c.doFetch(ctx, ids, mkt, resources)
		if fetchErr != nil {
			return fetchErr
		}
		batch = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return batch, nil
}

func (c *Client) doFetch(ctx context.Context, ids []string, mkt domain.Marketplace, resources []Resource) (*ItemBatch, error) {
	body := getItemsRequest{
		ItemIDs:     ids,
		Marketplace: mkt.Code,
		PartnerTag:  mkt.PartnerTag,
		Resources:   resources,
	}

	ctx = context.WithValue(ctx, signingRegionKey{}, mkt.Region)

	var parsed getItemsResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&parsed).
		Post(mkt.Endpoint)
	if err != nil {
		return nil, classifyTransport(err)
	}

	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		var errBody getItemsResponse
		_ = json.Unmarshal(resp.Body(), &errBody)
		if len(errBody.Errors) > 0 {
			apiErr := errBody.Errors[0]
			kind, ok := classifyCode(apiErr.Code)
			if !ok {
				kind = classifyStatus(resp.StatusCode())
			}
			// A not-accessible item describes the item, not upstream
			// health. Hand it back as a batch, the same shape the
			// 200-with-errors path produces, so it never counts against
			// the circuit breaker.
			if kind == KindItemNotAccessible {
				return &ItemBatch{Errors: errBody.Errors}, nil
			}
			return nil, newError(kind, apiErr.Code, apiErr.Message)
		}
		return nil, newError(classifyStatus(resp.StatusCode()), "",
			fmt.Sprintf("HTTP %d: %s", resp.StatusCode(), resp.Body()))
	}

	batch := &ItemBatch{Errors: parsed.Errors}
	for _, raw := range parsed.Items {
		var item Item
		if err := json.Unmarshal(raw, &item); err != nil || item.ItemID == "" {
			continue
		}
		var rawMap map[string]interface{}
		_ = json.Unmarshal(raw, &rawMap)
		item.Raw = rawMap
		batch.Items = append(batch.Items, item)
	}
	return batch, nil
}

// signRequest applies a SigV4 signature keyed by the marketplace region.
func (c *Client) signRequest(req *http.Request) error {
	region, _ := req.Context().Value(signingRegionKey{}).(string)
	if region == "" {
		region = "us-east-1"
	}

	payloadHash := emptyPayloadHash
	if req.Body != nil {
		b, err := io.ReadAll(req.Body)
		if err != nil {
			return fmt.Errorf("failed to read request body for signing: %w", err)
		}
		req.Body = io.NopCloser(bytes.NewReader(b))
		req.ContentLength = int64(len(b))
		sum := sha256.Sum256(b)
		payloadHash = hex.EncodeToString(sum[:])
	}

	creds, err := c.creds.Retrieve(req.Context())
	if err != nil {
		return wrapError(KindAuthError, "failed to retrieve signing credentials", err)
	}
	if err := c.signer.SignHTTP(req.Context(), creds, req, payloadHash, c.service, region, time.Now()); err != nil {
		return wrapError(KindAuthError, "failed to sign request", err)
	}
	return nil
}

// classifyTransport maps an error from the HTTP round trip to the taxonomy.
func classifyTransport(err error) *Error {
	var upErr *Error
	if errors.As(err, &upErr) {
		return upErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return wrapError(KindTimeout, "request deadline exceeded", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return wrapError(KindTimeout, "request timed out", err)
	}
	return wrapError(KindNetworkError, err.Error(), err)
}
