package background

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ajramos/mailguard/internal/analysis"
	"github.com/ajramos/mailguard/internal/services"
	"github.com/ajramos/mailguard/internal/trust"
	"github.com/google/uuid"
)

// Transport carries requests to a background and notices back
type Transport interface {
	Send(ctx context.Context, req Request) (Response, error)
	Subscribe(ctx context.Context, client string) (<-chan Notice, error)
}

// LocalTransport calls a router in the same process
type LocalTransport struct {
	router *Router
	hub    *Hub
}

// NewLocalTransport creates an in-process transport
func NewLocalTransport(router *Router, hub *Hub) *LocalTransport {
	return &LocalTransport{router: router, hub: hub}
}

// Send implements Transport
func (t *LocalTransport) Send(ctx context.Context, req Request) (Response, error) {
	return t.router.Handle(ctx, req), nil
}

// Subscribe implements Transport. The subscription ends with ctx.
func (t *LocalTransport) Subscribe(ctx context.Context, client string) (<-chan Notice, error) {
	if t.hub == nil {
		return nil, fmt.Errorf("no notice hub: %w", services.ErrServiceUnavailable)
	}
	ch, cancel := t.hub.Subscribe(client)
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return ch, nil
}

// HTTPTransport talks to a Server over HTTP
type HTTPTransport struct {
	baseURL string
	client  *http.Client
	logger  *log.Logger
}

// NewHTTPTransport creates a transport for the server at baseURL
func NewHTTPTransport(baseURL string, timeout time.Duration, logger *log.Logger) *HTTPTransport {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPTransport{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// Send implements Transport
func (t *HTTPTransport) Send(ctx context.Context, req Request) (Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("failed to encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/message", bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return Response{}, err
	}
	defer resp.Body.Close()

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Response{}, fmt.Errorf("failed to decode %s answer (status %d): %w", req.Action, resp.StatusCode, err)
	}
	return out, nil
}

// Subscribe implements Transport by reading the server-sent notice stream
func (t *HTTPTransport) Subscribe(ctx context.Context, client string) (<-chan Notice, error) {
	u := t.baseURL + "/notices?client=" + url.QueryEscape(client)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build subscription: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	// the stream outlives any request timeout
	resp, err := (&http.Client{Transport: t.client.Transport}).Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("subscription refused with status %d", resp.StatusCode)
	}

	out := make(chan Notice, noticeBuffer)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			data, ok := strings.CutPrefix(scanner.Text(), "data: ")
			if !ok {
				continue
			}
			var n Notice
			if err := json.Unmarshal([]byte(data), &n); err != nil {
				if t.logger != nil {
					t.logger.Printf("Client: bad notice: %v", err)
				}
				continue
			}
			select {
			case out <- n:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Client is the typed side of the protocol. Each client has its own id so
// the notices it causes are not sent back to it.
type Client struct {
	t  Transport
	id string
}

// NewClient creates a client with a fresh id
func NewClient(t Transport) *Client {
	return &Client{t: t, id: uuid.NewString()}
}

// ID returns the client id used as request origin
func (c *Client) ID() string { return c.id }

func (c *Client) call(ctx context.Context, req Request, dst any) error {
	req.Origin = c.id
	resp, err := c.t.Send(ctx, req)
	if err != nil {
		return fmt.Errorf("%w: %v", services.ErrServiceUnavailable, err)
	}
	if !resp.Success {
		return services.ErrorFromWire(resp.Code, resp.Error)
	}
	if dst == nil || len(resp.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Data, dst); err != nil {
		return fmt.Errorf("failed to decode %s answer: %w", req.Action, err)
	}
	return nil
}

// Notices streams the notices meant for this client until ctx is done
func (c *Client) Notices(ctx context.Context) (<-chan Notice, error) {
	return c.t.Subscribe(ctx, c.id)
}

// GetUser returns the login state
func (c *Client) GetUser(ctx context.Context) (*services.UserStatus, error) {
	var u services.UserStatus
	if err := c.call(ctx, Request{Action: ActionGetUser}, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// AnalyzeText submits text for a verdict
func (c *Client) AnalyzeText(ctx context.Context, text, language string) (*analysis.Result, error) {
	var r analysis.Result
	if err := c.call(ctx, Request{Action: ActionAnalyzeText, Text: text, Language: language}, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// GetTranslations returns the UI strings of language
func (c *Client) GetTranslations(ctx context.Context, language string) (map[string]string, error) {
	var m map[string]string
	if err := c.call(ctx, Request{Action: ActionGetTranslations, Language: language}, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// HealthCheck returns the analysis service health document
func (c *Client) HealthCheck(ctx context.Context) (map[string]any, error) {
	var m map[string]any
	if err := c.call(ctx, Request{Action: ActionHealthCheck}, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// SignIn logs in with email and password
func (c *Client) SignIn(ctx context.Context, email, password string) (*services.UserStatus, error) {
	var u services.UserStatus
	if err := c.call(ctx, Request{Action: ActionSignIn, Email: email, Password: password}, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// SignUp registers a new account and logs in
func (c *Client) SignUp(ctx context.Context, email, password string) (*services.UserStatus, error) {
	var u services.UserStatus
	if err := c.call(ctx, Request{Action: ActionSignUp, Email: email, Password: password}, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// SignOut drops the session
func (c *Client) SignOut(ctx context.Context) error {
	return c.call(ctx, Request{Action: ActionSignOut}, nil)
}

// GetDailyUsage returns today's consumption
func (c *Client) GetDailyUsage(ctx context.Context) (*services.Usage, error) {
	var u services.Usage
	if err := c.call(ctx, Request{Action: ActionGetDailyUsage}, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// AddMoreAnalyses extends today's limit
func (c *Client) AddMoreAnalyses(ctx context.Context) (*services.Usage, error) {
	var u services.Usage
	if err := c.call(ctx, Request{Action: ActionAddMoreAnalyses}, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (c *Client) trustCall(ctx context.Context, req Request) (trust.Lists, error) {
	var l trust.Lists
	err := c.call(ctx, req, &l)
	return l, err
}

// TrustedLists returns the trusted senders and domains
func (c *Client) TrustedLists(ctx context.Context) (trust.Lists, error) {
	return c.trustCall(ctx, Request{Action: ActionGetTrustedSenders})
}

// AddTrustedSender trusts sender
func (c *Client) AddTrustedSender(ctx context.Context, sender string) (trust.Lists, error) {
	return c.trustCall(ctx, Request{Action: ActionAddTrustedSender, Sender: sender})
}

// RemoveTrustedSender stops trusting sender
func (c *Client) RemoveTrustedSender(ctx context.Context, sender string) (trust.Lists, error) {
	return c.trustCall(ctx, Request{Action: ActionRemoveTrustedSender, Sender: sender})
}

// AddTrustedDomain trusts every sender of domain
func (c *Client) AddTrustedDomain(ctx context.Context, domain string) (trust.Lists, error) {
	return c.trustCall(ctx, Request{Action: ActionAddTrustedDomain, Domain: domain})
}

// RemoveTrustedDomain stops trusting domain
func (c *Client) RemoveTrustedDomain(ctx context.Context, domain string) (trust.Lists, error) {
	return c.trustCall(ctx, Request{Action: ActionRemoveTrustedDomain, Domain: domain})
}

// UpdateSettings changes the display language of every detector
func (c *Client) UpdateSettings(ctx context.Context, language string) error {
	return c.call(ctx, Request{Action: ActionUpdateSettings, Language: language}, nil)
}
