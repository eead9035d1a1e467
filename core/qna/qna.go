// Package qna looks up answers in a QnA Maker knowledge base.
package qna

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	coreconfig "github.com/m3rciful/qnabot/core/config"
)

// Answer is one knowledge base match. Score is normalised to 0..1.
type Answer struct {
	ID        int
	Text      string
	Score     float64
	Source    string
	Questions []string
}

// Client returns the best answers for a question, best first. An empty
// result means the knowledge base had nothing above the score threshold.
type Client interface {
	GetAnswers(ctx context.Context, question string) ([]Answer, error)
}

// Endpoint identifies one knowledge base on a QnA Maker runtime host.
type Endpoint struct {
	Host            string
	KnowledgeBaseID string
	EndpointKey     string
}

func (e Endpoint) validate() error {
	var missing []string
	if strings.TrimSpace(e.Host) == "" {
		missing = append(missing, "host")
	}
	if strings.TrimSpace(e.KnowledgeBaseID) == "" {
		missing = append(missing, "knowledge base id")
	}
	if strings.TrimSpace(e.EndpointKey) == "" {
		missing = append(missing, "endpoint key")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrEndpoint, strings.Join(missing, ", "))
	}
	return nil
}

// Options tune a client.
type Options struct {
	Top            int
	ScoreThreshold float64
	Timeout        time.Duration
	Retries        int
	RetryWait      time.Duration
}

// ErrEndpoint is returned when an endpoint is missing host, knowledge base id or key.
var ErrEndpoint = errors.New("qna: incomplete endpoint")

// StatusError is returned for non-2xx responses from the service.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("qna: service returned HTTP %d: %s", e.StatusCode, e.Body)
}

// Code exposes a stable error code for handler summaries.
func (e *StatusError) Code() string {
	return fmt.Sprintf("QNA_HTTP_%d", e.StatusCode)
}

// FromConfig builds the client for one menu category, wrapping it in an
// answer cache when the shared settings enable one.
func FromConfig(shared coreconfig.QnAConfig, cat coreconfig.CategoryConfig) (Client, error) {
	ep := Endpoint{
		Host:            cat.Host,
		KnowledgeBaseID: cat.KnowledgeBaseID,
		EndpointKey:     cat.EndpointKey,
	}
	if ep.Host == "" {
		ep.Host = shared.Host
	}
	if ep.EndpointKey == "" {
		ep.EndpointKey = shared.EndpointKey
	}
	client, err := NewHTTPClient(ep, Options{
		Top:            shared.Top,
		ScoreThreshold: shared.ScoreThreshold,
		Timeout:        time.Duration(shared.TimeoutSeconds) * time.Second,
		Retries:        shared.Retries,
	})
	if err != nil {
		return nil, fmt.Errorf("category %q: %w", cat.Label, err)
	}
	if shared.CacheSize <= 0 {
		return client, nil
	}
	cached, err := NewCachedClient(client, ep.KnowledgeBaseID, shared.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("category %q: %w", cat.Label, err)
	}
	return cached, nil
}
