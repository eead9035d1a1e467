package qna

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/m3rciful/qnabot/core/logger"
	"github.com/m3rciful/qnabot/core/netutil"
)

const (
	defaultTop            = 3
	defaultScoreThreshold = 0.3
	defaultTimeout        = 10 * time.Second
	defaultRetryWait      = 300 * time.Millisecond
	maxRetryWait          = 2 * time.Second

	// noMatchID is the id the service gives its built-in "no good match" answer.
	noMatchID = -1
)

type generateAnswerRequest struct {
	Question string `json:"question"`
	Top      int    `json:"top"`
}

type generateAnswerResponse struct {
	Answers []struct {
		ID        int      `json:"id"`
		Answer    string   `json:"answer"`
		Score     float64  `json:"score"`
		Source    string   `json:"source"`
		Questions []string `json:"questions"`
	} `json:"answers"`
}

// HTTPClient calls the generateAnswer endpoint of one knowledge base.
type HTTPClient struct {
	http      *resty.Client
	url       string
	kb        string
	top       int
	threshold float64
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient validates ep and prepares a resty client for it.
func NewHTTPClient(ep Endpoint, opts Options) (*HTTPClient, error) {
	if err := ep.validate(); err != nil {
		return nil, err
	}
	if opts.Top <= 0 {
		opts.Top = defaultTop
	}
	if opts.ScoreThreshold <= 0 {
		opts.ScoreThreshold = defaultScoreThreshold
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.RetryWait <= 0 {
		opts.RetryWait = defaultRetryWait
	}

	client := resty.New().
		SetTimeout(opts.Timeout).
		SetHeader("Authorization", "EndpointKey "+ep.EndpointKey).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "qnabot/1.0").
		SetRetryCount(opts.Retries).
		SetRetryWaitTime(opts.RetryWait).
		SetRetryMaxWaitTime(maxRetryWait).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			if resp != nil && resp.Request != nil && resp.Request.Context().Err() != nil {
				return false
			}
			if err != nil {
				return !errors.Is(err, context.Canceled) && netutil.ShouldRetry(err)
			}
			return resp != nil && netutil.RetryableStatus(resp.StatusCode())
		})

	host := strings.TrimRight(strings.TrimSpace(ep.Host), "/")
	return &HTTPClient{
		http:      client,
		url:       fmt.Sprintf("%s/knowledgebases/%s/generateAnswer", host, ep.KnowledgeBaseID),
		kb:        ep.KnowledgeBaseID,
		top:       opts.Top,
		threshold: opts.ScoreThreshold,
	}, nil
}

// GetAnswers posts the question and returns answers at or above the score threshold.
func (c *HTTPClient) GetAnswers(ctx context.Context, question string) ([]Answer, error) {
	start := time.Now()
	var body generateAnswerResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(generateAnswerRequest{Question: question, Top: c.top}).
		SetResult(&body).
		Post(c.url)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		logger.Warn(ctx, "qna", "qna.query",
			slog.String("status", logger.Status(err)),
			slog.String("kb", c.kb),
			slog.Duration("duration_ms", logger.Took(start)),
			slog.String("err", err.Error()),
		)
		return nil, fmt.Errorf("qna: generateAnswer: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		serr := &StatusError{StatusCode: resp.StatusCode(), Body: logger.SanitizeLimit(resp.String(), 256)}
		logger.Warn(ctx, "qna", "qna.query",
			slog.String("status", "fail"),
			slog.String("kb", c.kb),
			slog.Int("http_code", resp.StatusCode()),
			slog.Duration("duration_ms", logger.Took(start)),
		)
		return nil, serr
	}

	answers := make([]Answer, 0, len(body.Answers))
	for _, a := range body.Answers {
		if a.ID == noMatchID {
			continue
		}
		score := a.Score / 100
		if score < c.threshold {
			continue
		}
		answers = append(answers, Answer{
			ID:        a.ID,
			Text:      a.Answer,
			Score:     score,
			Source:    a.Source,
			Questions: a.Questions,
		})
	}

	outcome := "answered"
	if len(answers) == 0 {
		outcome = "no_answer"
	}
	logger.Debug(ctx, "qna", "qna.query",
		slog.String("status", "ok"),
		slog.String("outcome", outcome),
		slog.String("kb", c.kb),
		slog.Int("count", len(answers)),
		slog.Duration("duration_ms", logger.Took(start)),
	)
	return answers, nil
}
