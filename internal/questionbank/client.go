package questionbank

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
)

const (
	userAgent    = "Course-MNR-World-Backend/2.0"
	maxBodyBytes = 16 << 20
)

// Source loads the normalized question set for an exam's source reference.
// An empty ref means the whole bank.
type Source interface {
	LoadQuestions(ctx context.Context, sourceRef string) (*LoadResult, error)
}

// Client talks to the PHP question bank API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	log     zerolog.Logger
}

// NewClient creates a question bank client. timeout bounds every request.
func NewClient(baseURL, apiKey string, timeout time.Duration, log zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
		log:     log.With().Str("component", "questionbank").Logger(),
	}
}

// LoadQuestions fetches and normalizes the question set. Malformed records
// are excluded and logged one by one.
func (c *Client) LoadQuestions(ctx context.Context, sourceRef string) (*LoadResult, error) {
	raws, err := c.fetch(ctx, sourceRef)
	if err != nil {
		return nil, err
	}

	res, err := NormalizeRecords(raws)
	for _, ex := range res.Excluded {
		c.log.Warn().
			Str("file_id", sourceRef).
			Str("question_id", ex.QuestionID).
			Str("reason", ex.Reason).
			Msg("Question excluded")
	}
	if err != nil {
		return res, err
	}

	c.log.Debug().
		Str("file_id", sourceRef).
		Int("questions", len(res.Questions)).
		Int("excluded", len(res.Excluded)).
		Msg("Questions loaded")
	return res, nil
}

func (c *Client) fetch(ctx context.Context, sourceRef string) ([]json.RawMessage, error) {
	q := url.Values{}
	q.Set("route", "questions")
	q.Set("token", c.apiKey)
	if sourceRef != "" {
		q.Set("file_id", sourceRef)
	}
	endpoint := c.baseURL + "/api/index.php?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrSourceUnavailable, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrSourceUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status %d", ErrSourceUnavailable, resp.StatusCode)
	}

	raws, err := decodeQuestionList(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	return raws, nil
}

// envelope covers the wrapped shapes served by the web proxy:
// {success, data: {questions}}, {success, data: [...]} and {success, questions}.
type envelope struct {
	Success   *bool             `json:"success"`
	Message   string            `json:"message"`
	Error     string            `json:"error"`
	Data      json.RawMessage   `json:"data"`
	Questions []json.RawMessage `json:"questions"`
}

// decodeQuestionList only splits the payload into records. Each record is
// decoded later on its own.
func decodeQuestionList(body []byte) ([]json.RawMessage, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, errors.New("empty response body")
	}

	switch body[0] {
	case '[':
		var raws []json.RawMessage
		if err := json.Unmarshal(body, &raws); err != nil {
			return nil, fmt.Errorf("decode question list: %w", err)
		}
		return raws, nil

	case '{':
		var env envelope
		if err := json.Unmarshal(body, &env); err != nil {
			return nil, fmt.Errorf("decode envelope: %w", err)
		}
		if env.Success != nil && !*env.Success {
			msg := env.Message
			if msg == "" {
				msg = env.Error
			}
			return nil, fmt.Errorf("source reported failure: %s", msg)
		}
		if env.Questions != nil {
			return env.Questions, nil
		}
		data := bytes.TrimSpace(env.Data)
		if len(data) > 0 && data[0] == '[' {
			var raws []json.RawMessage
			if err := json.Unmarshal(data, &raws); err != nil {
				return nil, fmt.Errorf("decode data list: %w", err)
			}
			return raws, nil
		}
		if len(data) > 0 && data[0] == '{' {
			var inner struct {
				Questions []json.RawMessage `json:"questions"`
			}
			if err := json.Unmarshal(data, &inner); err != nil {
				return nil, fmt.Errorf("decode data: %w", err)
			}
			if inner.Questions != nil {
				return inner.Questions, nil
			}
		}
		return nil, errors.New("response carries no question list")

	default:
		return nil, errors.New("response is not JSON")
	}
}
