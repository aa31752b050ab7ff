// Package dispatcher is the HTTP client for the judge dispatcher service:
// challenge/response RSA authentication, submission claiming, result and
// heartbeat reporting, and problem/archive metadata retrieval.
package dispatcher

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"
)

// SubmissionInfo is one submission claimed from the dispatcher.
type SubmissionInfo struct {
	ID         string `json:"id"`
	ProblemID  string `json:"problem_id"`
	Language   string `json:"language"`
	SourceCode string `json:"source_code"`
}

// SubmissionJudgeResult is the outcome reported back for a submission.
type SubmissionJudgeResult struct {
	SubmissionID string `json:"submission_id"`
	Verdict      string `json:"verdict"`
	TimeMS       uint64 `json:"time_ms"`
	MemoryKB     uint64 `json:"memory_kb"`
	Message      string `json:"message,omitempty"`
}

// ProblemInfo is the problem metadata the dispatcher serves.
type ProblemInfo struct {
	ID            string `json:"id"`
	JudgeMode     string `json:"judge_mode"`
	TimeLimitMS   uint64 `json:"time_limit_ms"`
	MemoryLimitKB uint64 `json:"memory_limit_kb"`
	JurySource    string `json:"jury_source"`
	JuryLanguage  string `json:"jury_language"`
	JuryDialect   string `json:"jury_dialect"`
	JuryVersion   string `json:"jury_version"`
	ArchiveID     string `json:"archive_id"`
	Timestamp     uint64 `json:"timestamp"`
}

// Heartbeat is the periodic judge-node status packet: a timestamp plus the
// node's cpu and memory footprint, so the dispatcher can weigh scheduling
// decisions across the fleet.
type Heartbeat struct {
	Timestamp           int64  `json:"timestamp"`
	Cores               uint32 `json:"cores"`
	TotalPhysicalMemory uint64 `json:"totalPhysicalMemory"`
	FreePhysicalMemory  uint64 `json:"freePhysicalMemory"`
	TotalSwapSpace      uint64 `json:"totalSwapSpace"`
	FreeSwapSpace       uint64 `json:"freeSwapSpace"`
	CachedSwapSpace     uint64 `json:"cachedSwapSpace"`
}

// Client is an authenticated dispatcher HTTP client. The zero value is not
// usable; construct with NewClient.
type Client struct {
	http       *http.Client
	baseURL    string
	privateKey *rsa.PrivateKey

	mu    sync.Mutex
	token string
}

// NewClient builds a Client with a 30-second request timeout.
func NewClient(baseURL string, privateKey *rsa.PrivateKey) *Client {
	return &Client{
		http:       &http.Client{Timeout: 30 * time.Second},
		baseURL:    baseURL,
		privateKey: privateKey,
	}
}

// LoadPrivateKey reads a PEM-encoded RSA private key from path, accepting
// either PKCS1 or PKCS8 encoding.
func LoadPrivateKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("dispatcher: read private key: %w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("dispatcher: no PEM block found in %s", path)
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("dispatcher: parse private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("dispatcher: private key is not RSA")
	}
	return key, nil
}

type authChallengeResponse struct {
	ID        string `json:"id"`
	Challenge string `json:"challenge"`
}

type authSolveResponse struct {
	JWT string `json:"jwt"`
}

// authenticate performs the challenge/response handshake and stores the
// resulting JWT.
func (c *Client) authenticate(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("dispatcher: auth request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("dispatcher: auth request: status %d", resp.StatusCode)
	}

	var challenge authChallengeResponse
	if err := json.NewDecoder(resp.Body).Decode(&challenge); err != nil {
		return fmt.Errorf("dispatcher: decode auth challenge: %w", err)
	}

	ciphertext, err := base64.StdEncoding.DecodeString(challenge.Challenge)
	if err != nil {
		return fmt.Errorf("dispatcher: decode challenge payload: %w", err)
	}
	plaintext, err := rsa.DecryptPKCS1v15(rand.Reader, c.privateKey, ciphertext)
	if err != nil {
		return fmt.Errorf("dispatcher: decrypt challenge: %w", err)
	}

	body, err := json.Marshal(map[string]string{
		"response": base64.StdEncoding.EncodeToString(plaintext),
	})
	if err != nil {
		return err
	}

	patchReq, err := http.NewRequestWithContext(ctx, http.MethodPatch, c.baseURL+"/auth/"+challenge.ID, bytes.NewReader(body))
	if err != nil {
		return err
	}
	patchReq.Header.Set("Content-Type", "application/json")

	patchResp, err := c.http.Do(patchReq)
	if err != nil {
		return fmt.Errorf("dispatcher: auth solve request: %w", err)
	}
	defer patchResp.Body.Close()
	if patchResp.StatusCode != http.StatusOK {
		return fmt.Errorf("dispatcher: auth solve request: status %d", patchResp.StatusCode)
	}

	var solved authSolveResponse
	if err := json.NewDecoder(patchResp.Body).Decode(&solved); err != nil {
		return fmt.Errorf("dispatcher: decode auth solve response: %w", err)
	}

	c.mu.Lock()
	c.token = solved.JWT
	c.mu.Unlock()
	return nil
}

// doAuthed attaches the bearer token, re-authenticating and retrying once
// on a 401/403.
func (c *Client) doAuthed(ctx context.Context, method, url string, body []byte) (*http.Response, error) {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	if token == "" {
		if err := c.authenticate(ctx); err != nil {
			return nil, err
		}
		c.mu.Lock()
		token = c.token
		c.mu.Unlock()
	}

	do := func(tok string) (*http.Response, error) {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return nil, err
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Authorization", "Bearer "+tok)
		return c.http.Do(req)
	}

	resp, err := do(token)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		resp.Body.Close()
		if err := c.authenticate(ctx); err != nil {
			return nil, err
		}
		c.mu.Lock()
		token = c.token
		c.mu.Unlock()
		return do(token)
	}
	return resp, nil
}

// GetSubmission polls for one queued submission. A non-200 response means
// no work is currently available.
func (c *Client) GetSubmission(ctx context.Context) (SubmissionInfo, bool, error) {
	resp, err := c.doAuthed(ctx, http.MethodGet, c.baseURL+"/submissions", nil)
	if err != nil {
		return SubmissionInfo{}, false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return SubmissionInfo{}, false, nil
	}
	var sub SubmissionInfo
	if err := json.NewDecoder(resp.Body).Decode(&sub); err != nil {
		return SubmissionInfo{}, false, fmt.Errorf("dispatcher: decode submission: %w", err)
	}
	return sub, true, nil
}

// PatchResult reports a judged submission's result.
func (c *Client) PatchResult(ctx context.Context, result SubmissionJudgeResult) error {
	body, err := json.Marshal(result)
	if err != nil {
		return err
	}
	resp, err := c.doAuthed(ctx, http.MethodPatch, c.baseURL+"/submissions/"+result.SubmissionID, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("dispatcher: patch result: status %d", resp.StatusCode)
	}
	return nil
}

// GetProblem fetches full problem metadata.
func (c *Client) GetProblem(ctx context.Context, id string) (ProblemInfo, error) {
	resp, err := c.doAuthed(ctx, http.MethodGet, c.baseURL+"/problems/"+id, nil)
	if err != nil {
		return ProblemInfo{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ProblemInfo{}, fmt.Errorf("dispatcher: get problem: status %d", resp.StatusCode)
	}
	var info ProblemInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return ProblemInfo{}, fmt.Errorf("dispatcher: decode problem: %w", err)
	}
	return info, nil
}

// GetProblemTimestamp fetches only a problem's freshness timestamp, cheap
// enough to call before every judge attempt.
func (c *Client) GetProblemTimestamp(ctx context.Context, id string) (uint64, error) {
	resp, err := c.doAuthed(ctx, http.MethodGet, c.baseURL+"/problems/"+id+"/timestamp", nil)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("dispatcher: get problem timestamp: status %d", resp.StatusCode)
	}
	var ts struct {
		Timestamp uint64 `json:"timestamp"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&ts); err != nil {
		return 0, fmt.Errorf("dispatcher: decode timestamp: %w", err)
	}
	return ts.Timestamp, nil
}

// GetArchive fetches a test archive's ZIP body by archive id.
func (c *Client) GetArchive(ctx context.Context, id string) ([]byte, error) {
	resp, err := c.doAuthed(ctx, http.MethodGet, c.baseURL+"/archives/"+id, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("dispatcher: get archive: status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// PatchHeartbeat reports this worker's current status.
func (c *Client) PatchHeartbeat(ctx context.Context, hb Heartbeat) error {
	body, err := json.Marshal(hb)
	if err != nil {
		return err
	}
	resp, err := c.doAuthed(ctx, http.MethodPatch, c.baseURL+"/judges", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("dispatcher: patch heartbeat: status %d", resp.StatusCode)
	}
	return nil
}
