package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mnajarc/sistemaInm-sub001/pkg/workflow"
)

// docsAudience is the audience of tokens sent to the docs service.
const docsAudience = "docs"

// ErrStaleResult means the docs service no longer holds the analyzed file.
var ErrStaleResult = errors.New("analysis result is stale")

// TokenSigner issues internal service tokens.
type TokenSigner interface {
	Sign(audience string) (string, error)
}

type docsClient struct {
	baseURL    string
	signer     TokenSigner
	httpClient *http.Client
}

func newDocsClient(baseURL string, signer TokenSigner) *docsClient {
	return &docsClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		signer:     signer,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// RecordAnalysis posts res to the docs service callback.
func (c *docsClient) RecordAnalysis(ctx context.Context, submissionID string, res workflow.AnalysisResult) error {
	payload, err := json.Marshal(res)
	if err != nil {
		return err
	}
	endpoint := fmt.Sprintf("%s/internal/submissions/%s/analysis", c.baseURL, url.PathEscape(submissionID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if err := c.authorize(req); err != nil {
		return err
	}
	return c.do(req)
}

func (c *docsClient) authorize(req *http.Request) error {
	token, err := c.signer.Sign(docsAudience)
	if err != nil {
		return fmt.Errorf("sign internal token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

func (c *docsClient) do(req *http.Request) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 400 {
		return nil
	}
	var errResp struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&errResp)
	msg := errResp.Error
	if msg == "" {
		msg = resp.Status
	}
	switch resp.StatusCode {
	case http.StatusConflict, http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrStaleResult, msg)
	default:
		return fmt.Errorf("docs service error: %s", msg)
	}
}
