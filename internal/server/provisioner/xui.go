package provisioner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/mamyekta/novabot/internal/common"
	"github.com/mamyekta/novabot/internal/logging"
	"github.com/mamyekta/novabot/internal/server/models"
)

// XUIConfig carries the panel endpoints and credentials.
type XUIConfig struct {
	BaseURL    string // panel root, e.g. http://panel:2053
	APIURL     string // inbound API root, e.g. http://panel:2053/panel/inbound
	DBURL      string // traffic-db query endpoint
	SubURL     string // public subscription link base
	Username   string
	Password   string
	InboundIDs []int // every credential is mirrored to all listed inbounds
}

// XUIClient talks to an X-UI proxy panel over its cookie-session HTTP API.
type XUIClient struct {
	cfg    XUIConfig
	http   *http.Client
	logger logging.Logger

	mu             sync.Mutex
	sessionToken   string
	sessionExpires time.Time
}

func NewXUIClient(cfg XUIConfig, logger logging.Logger) (*XUIClient, error) {
	if cfg.BaseURL == "" || cfg.Username == "" || cfg.Password == "" {
		return nil, fmt.Errorf("%w: panel credentials missing", common.ErrValidation)
	}
	if len(cfg.InboundIDs) == 0 {
		return nil, fmt.Errorf("%w: no inbound ids configured", common.ErrValidation)
	}
	return &XUIClient{
		cfg:    cfg,
		http:   &http.Client{Timeout: 15 * time.Second},
		logger: logger.With("module", "xui"),
	}, nil
}

// panelResponse is the envelope every X-UI endpoint answers with.
type panelResponse struct {
	Success bool            `json:"success"`
	Msg     string          `json:"msg"`
	Obj     json.RawMessage `json:"obj"`
}

var cookieExpiresRe = regexp.MustCompile(`Expires=([^;]+)`)

// login authenticates and stores the session cookie. The panel hands out the
// token inside a Set-Cookie header rather than the body.
func (c *XUIClient) login(ctx context.Context) error {
	body, _ := json.Marshal(map[string]string{
		"username": c.cfg.Username,
		"password": c.cfg.Password,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/login", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrProvisionerUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: login: %v", common.ErrProvisionerUnavailable, err)
	}
	defer resp.Body.Close()

	var pr panelResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return fmt.Errorf("%w: login decode: %v", common.ErrProvisionerUnavailable, err)
	}
	if !pr.Success {
		return fmt.Errorf("%w: login: %s", common.ErrProvisionerRejected, pr.Msg)
	}

	setCookie := resp.Header.Get("Set-Cookie")
	token := ""
	if parts := strings.SplitN(setCookie, ";", 2); len(parts) > 0 {
		if kv := strings.SplitN(parts[0], "=", 2); len(kv) == 2 {
			token = kv[1]
		}
	}
	if token == "" {
		return fmt.Errorf("%w: login returned no session cookie", common.ErrProvisionerUnavailable)
	}

	expires := time.Now().Add(30 * time.Minute)
	if m := cookieExpiresRe.FindStringSubmatch(setCookie); m != nil {
		if t, err := time.Parse(time.RFC1123, m[1]); err == nil {
			expires = t
		}
	}

	c.mu.Lock()
	c.sessionToken = token
	c.sessionExpires = expires
	c.mu.Unlock()

	c.logger.Info(ctx, "panel session established", "expires", expires)
	return nil
}

func (c *XUIClient) ensureSession(ctx context.Context) (string, error) {
	c.mu.Lock()
	token, expires := c.sessionToken, c.sessionExpires
	c.mu.Unlock()

	if token != "" && time.Now().Before(expires.Add(-time.Minute)) {
		return token, nil
	}
	if err := c.login(ctx); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionToken, nil
}

// RefreshSession re-authenticates unconditionally.
func (c *XUIClient) RefreshSession(ctx context.Context) error {
	return c.login(ctx)
}

func (c *XUIClient) do(ctx context.Context, method, url string, payload any) (*panelResponse, error) {
	token, err := c.ensureSession(ctx)
	if err != nil {
		return nil, err
	}

	var body *bytes.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrProvisionerUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Cookie", "session="+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrProvisionerUnavailable, err)
	}
	defer resp.Body.Close()

	var pr panelResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", common.ErrProvisionerUnavailable, err)
	}
	if !pr.Success {
		return &pr, fmt.Errorf("%w: %s", common.ErrProvisionerRejected, pr.Msg)
	}
	return &pr, nil
}

// xuiClient is the client object the addClient endpoint expects, embedded as
// a JSON string inside the settings field.
type xuiClient struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	SubID      string `json:"subId"`
	Enable     bool   `json:"enable"`
	ExpiryTime int64  `json:"expiryTime"` // unix millis
	LimitIP    int    `json:"limitIp"`
	TotalGB    int64  `json:"totalGB"` // bytes, despite the name
	AlterID    int    `json:"alterId"`
	TgID       string `json:"tgId"`
}

func (c *XUIClient) CreateCredential(ctx context.Context, spec models.CredentialSpec) (*models.CredentialRef, error) {

	client := xuiClient{
		ID:         spec.ID,
		Email:      spec.Email,
		SubID:      spec.SubID,
		Enable:     true,
		ExpiryTime: spec.ExpiryTime.UnixMilli(),
		LimitIP:    spec.LimitIP,
		TotalGB:    spec.TrafficBytes,
	}
	settings, err := json.Marshal(map[string]any{"clients": []xuiClient{client}})
	if err != nil {
		return nil, fmt.Errorf("encode client: %w", err)
	}

	for _, inboundID := range c.cfg.InboundIDs {
		payload := map[string]any{
			"id":       inboundID,
			"settings": string(settings),
		}
		if _, err := c.do(ctx, http.MethodPost, c.cfg.APIURL+"/addClient", payload); err != nil {
			return nil, fmt.Errorf("addClient inbound %d: %w", inboundID, err)
		}
	}

	return &models.CredentialRef{
		UUID:      spec.ID,
		Email:     spec.Email,
		SubID:     spec.SubID,
		InboundID: c.cfg.InboundIDs[0],
	}, nil
}

func (c *XUIClient) DeleteCredential(ctx context.Context, uuid string) error {
	for _, inboundID := range c.cfg.InboundIDs {
		url := fmt.Sprintf("%s/%d/delClient/%s", c.cfg.APIURL, inboundID, uuid)
		_, err := c.do(ctx, http.MethodPost, url, nil)
		if err != nil {
			// The panel errors on unknown clients; for our callers an
			// already-deleted credential counts as deleted.
			if isAlreadyGone(err) {
				continue
			}
			return fmt.Errorf("delClient inbound %d: %w", inboundID, err)
		}
	}
	return nil
}

func isAlreadyGone(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not found") || strings.Contains(msg, "no client")
}

func (c *XUIClient) GetUsage(ctx context.Context, email string) (*models.CredentialUsage, error) {
	pr, err := c.do(ctx, http.MethodGet, c.cfg.APIURL+"/getClientTraffics/"+email, nil)
	if err != nil {
		if errors.Is(err, common.ErrProvisionerRejected) && isAlreadyGone(err) {
			return nil, common.ErrNotFound
		}
		return nil, err
	}

	// An unknown email is a success response with a null obj.
	if len(pr.Obj) == 0 || string(pr.Obj) == "null" {
		return nil, common.ErrNotFound
	}

	var row trafficRow
	if err := json.Unmarshal(pr.Obj, &row); err != nil {
		return nil, fmt.Errorf("%w: traffic decode: %v", common.ErrProvisionerUnavailable, err)
	}
	if row.Email == "" {
		return nil, common.ErrNotFound
	}
	usage := row.toUsage()
	return &usage, nil
}

// QueryUsage reads the panel's traffic table through its query endpoint.
// The pattern is a SQL LIKE expression over the email column.
func (c *XUIClient) QueryUsage(ctx context.Context, emailPattern string) ([]models.CredentialUsage, error) {
	token, err := c.ensureSession(ctx)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(
		`SELECT email, up, down, total, enable, expiry_time FROM client_traffics WHERE email LIKE '%s'`,
		emailPattern)
	body, _ := json.Marshal(map[string]string{"query": query})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.DBURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrProvisionerUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Cookie", "session="+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: traffic query: %v", common.ErrProvisionerUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: traffic query status %d", common.ErrProvisionerUnavailable, resp.StatusCode)
	}

	var rows []trafficRow
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("%w: traffic decode: %v", common.ErrProvisionerUnavailable, err)
	}

	usages := make([]models.CredentialUsage, 0, len(rows))
	for _, row := range rows {
		usages = append(usages, row.toUsage())
	}
	return usages, nil
}

func (c *XUIClient) PurgeDepleted(ctx context.Context) error {
	for _, inboundID := range c.cfg.InboundIDs {
		url := fmt.Sprintf("%s/delDepletedClients/%d", c.cfg.APIURL, inboundID)
		if _, err := c.do(ctx, http.MethodPost, url, nil); err != nil {
			return fmt.Errorf("delDepletedClients inbound %d: %w", inboundID, err)
		}
	}
	return nil
}

func (c *XUIClient) SubLink(subID string) string {
	return c.cfg.SubURL + "/" + subID
}

type trafficRow struct {
	Email      string `json:"email"`
	Up         int64  `json:"up"`
	Down       int64  `json:"down"`
	Total      int64  `json:"total"`
	Enable     bool   `json:"enable"`
	ExpiryTime int64  `json:"expiry_time"` // unix millis, 0 = never
}

func (r trafficRow) toUsage() models.CredentialUsage {
	u := models.CredentialUsage{
		Email:      r.Email,
		UpBytes:    r.Up,
		DownBytes:  r.Down,
		TotalBytes: r.Total,
		Enabled:    r.Enable,
	}
	if r.ExpiryTime > 0 {
		u.ExpiryTime = time.UnixMilli(r.ExpiryTime)
	}
	return u
}
