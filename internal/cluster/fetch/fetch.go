// Package fetch implements the external config fetcher: triggered once
// per leadership acquisition, it pulls a YAML document from either a
// Consul KV backend or an S3 object, subject to a total timeout.
package fetch

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// DefaultTimeout is the default value of CLUSTER_CONFIG_TIMEOUT_SECS.
const DefaultTimeout = 30 * time.Second

// Source selects a fetch backend.
type Source int

const (
	SourceNone Source = iota
	SourceKV
	SourceObjectStorage
)

// Config configures the fetcher, assembled from the CLUSTER_CONFIG_*
// environment variables.
type Config struct {
	Source  Source
	Timeout time.Duration

	KVAddr string
	KVKey  string

	S3Bucket string
	S3Object string
}

// Fetch pulls the configured YAML document, applying cfg.Timeout (or
// DefaultTimeout) as a hard ceiling.
func Fetch(ctx context.Context, cfg Config) ([]byte, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	switch cfg.Source {
	case SourceKV:
		return fetchKV(ctx, cfg.KVAddr, cfg.KVKey)
	case SourceObjectStorage:
		return fetchS3(ctx, cfg.S3Bucket, cfg.S3Object)
	default:
		return nil, fmt.Errorf("fetch: no config source configured")
	}
}

// kvEntry mirrors one element of Consul's `GET /v1/kv/{key}` JSON
// response array.
type kvEntry struct {
	Value string `json:"Value"`
}

func fetchKV(ctx context.Context, addr, key string) ([]byte, error) {
	url := fmt.Sprintf("%s/v1/kv/%s", addr, key)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: kv request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("fetch: kv responded %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var entries []kvEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("fetch: decode kv response: %w", err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("fetch: kv key %q not found", key)
	}
	decoded, err := base64.StdEncoding.DecodeString(entries[0].Value)
	if err != nil {
		return nil, fmt.Errorf("fetch: decode base64 value: %w", err)
	}
	return decoded, nil
}

func fetchS3(ctx context.Context, bucket, object string) ([]byte, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch: load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg)

	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(object),
	})
	if err != nil {
		// Any non-2xx or SDK-level failure is treated uniformly as an
		// ExternalFetchError.
		return nil, fmt.Errorf("fetch: s3 getobject: %w", err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}
