package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cashforge/internal/auth"
	"cashforge/internal/game"
	"cashforge/internal/ledger"

	"github.com/shopspring/decimal"
)

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api status %d: %s", e.Status, e.Message)
}

// IsAPIError reports whether err came back from the server rather than the network.
func IsAPIError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) Signup(ctx context.Context, email, password, username, inviteCode string) (auth.Session, error) {
	var out auth.Session
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/auth/signup", "", map[string]any{
		"email":       email,
		"password":    password,
		"username":    username,
		"invite_code": inviteCode,
	}, &out)
	return out, err
}

func (c *Client) Login(ctx context.Context, email, password string) (auth.Session, error) {
	var out auth.Session
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/auth/login", "", map[string]any{
		"email":    email,
		"password": password,
	}, &out)
	return out, err
}

func (c *Client) Refresh(ctx context.Context, refreshToken string) (auth.Session, error) {
	var out auth.Session
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/auth/refresh", "", map[string]any{
		"refresh_token": refreshToken,
	}, &out)
	return out, err
}

func (c *Client) Catalog(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/catalog", "", nil, &out)
	return out, err
}

func (c *Client) Account(ctx context.Context, accessToken string) (game.Dashboard, error) {
	var out game.Dashboard
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/account", accessToken, nil, &out)
	return out, err
}

func (c *Client) Transactions(ctx context.Context, accessToken string, limit int) ([]ledger.Transaction, error) {
	path := "/v1/account/transactions"
	if limit > 0 {
		path = fmt.Sprintf("%s?limit=%d", path, limit)
	}
	var out struct {
		Transactions []ledger.Transaction `json:"transactions"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, path, accessToken, nil, &out)
	return out.Transactions, err
}

func (c *Client) Deposit(ctx context.Context, accessToken string, pkr decimal.Decimal, proofURL string) (game.DepositResult, error) {
	var out game.DepositResult
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/deposits", accessToken, map[string]any{
		"pkr_amount": pkr,
		"proof_url":  proofURL,
	}, &out)
	return out, err
}

// UploadProof sends a local screenshot as multipart form data and returns its URL.
func (c *Client) UploadProof(ctx context.Context, accessToken, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filepath.Base(path)))
	hdr.Set("Content-Type", http.DetectContentType(data))
	part, err := mw.CreatePart(hdr)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(data); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	var out struct {
		URL string `json:"url"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/proofs", accessToken, mw.FormDataContentType(), &buf, &out); err != nil {
		return "", err
	}
	return out.URL, nil
}

func (c *Client) Withdraw(ctx context.Context, accessToken string, amount decimal.Decimal, destination string) (game.WithdrawResult, error) {
	var out game.WithdrawResult
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/withdrawals", accessToken, map[string]any{
		"amount":      amount,
		"destination": destination,
	}, &out)
	return out, err
}

func (c *Client) Quote(ctx context.Context, accessToken, packageID string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/packages/"+url.PathEscape(packageID)+"/quote", accessToken, nil, &out)
	return out, err
}

func (c *Client) Purchase(ctx context.Context, accessToken, packageID string) (game.PurchaseResult, error) {
	var out game.PurchaseResult
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/packages/"+url.PathEscape(packageID)+"/purchase", accessToken, nil, &out)
	return out, err
}

func (c *Client) Tasks(ctx context.Context, accessToken string) (game.TaskBoardView, error) {
	var out game.TaskBoardView
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/tasks", accessToken, nil, &out)
	return out, err
}

func (c *Client) StartTask(ctx context.Context, accessToken string, index int) (game.TaskBoardView, error) {
	var out game.TaskBoardView
	err := c.jsonRequest(ctx, http.MethodPost, fmt.Sprintf("/v1/tasks/%d/start", index), accessToken, nil, &out)
	return out, err
}

func (c *Client) ClaimTask(ctx context.Context, accessToken string, index int) (game.TaskClaimResult, error) {
	var out game.TaskClaimResult
	err := c.jsonRequest(ctx, http.MethodPost, fmt.Sprintf("/v1/tasks/%d/claim", index), accessToken, nil, &out)
	return out, err
}

func (c *Client) Trade(ctx context.Context, accessToken string) (game.TradeView, error) {
	var out game.TradeView
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/trade", accessToken, nil, &out)
	return out, err
}

func (c *Client) StartTrade(ctx context.Context, accessToken, tier string, amount decimal.Decimal) (game.TradeResult, error) {
	var out game.TradeResult
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/trade", accessToken, map[string]any{
		"tier":   tier,
		"amount": amount,
	}, &out)
	return out, err
}

func (c *Client) ClaimTrade(ctx context.Context, accessToken string) (game.TradeResult, error) {
	var out game.TradeResult
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/trade/claim", accessToken, nil, &out)
	return out, err
}

func (c *Client) Spin(ctx context.Context, accessToken, tier string) (game.SpinOutcome, error) {
	var out game.SpinOutcome
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/wheels/"+url.PathEscape(tier)+"/spin", accessToken, nil, &out)
	return out, err
}

func (c *Client) Referrals(ctx context.Context, accessToken string) (game.ReferralSummary, error) {
	var out game.ReferralSummary
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/referrals", accessToken, nil, &out)
	return out, err
}

func (c *Client) RedeemInvite(ctx context.Context, accessToken, inviteCode string) (game.ReferralSummary, error) {
	var out game.ReferralSummary
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/referrals", accessToken, map[string]any{
		"invite_code": inviteCode,
	}, &out)
	return out, err
}

func (c *Client) ClaimSalary(ctx context.Context, accessToken string, level int) (game.Result, error) {
	var out game.Result
	err := c.jsonRequest(ctx, http.MethodPost, fmt.Sprintf("/v1/salary/%d/claim", level), accessToken, nil, &out)
	return out, err
}

// GrantKeys uses the operator token, not a user session.
func (c *Client) GrantKeys(ctx context.Context, adminToken, accountID, tier string, count int) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/admin/keys", adminToken, map[string]any{
		"account_id": accountID,
		"tier":       tier,
		"count":      count,
	}, &out)
	return out, err
}

// SettleDeposit approves or rejects a pending deposit with the operator token.
func (c *Client) SettleDeposit(ctx context.Context, adminToken, accountID, depositID string, approve bool) (game.Result, error) {
	decision := "reject"
	if approve {
		decision = "approve"
	}
	var out game.Result
	path := fmt.Sprintf("/v1/admin/deposits/%s/%s/%s", url.PathEscape(accountID), url.PathEscape(depositID), decision)
	err := c.jsonRequest(ctx, http.MethodPost, path, adminToken, nil, &out)
	return out, err
}

func (c *Client) jsonRequest(ctx context.Context, method, path, accessToken string, in any, out any) error {
	var body io.Reader
	contentType := ""
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
		contentType = "application/json"
	}
	return c.do(ctx, method, path, accessToken, contentType, body, out)
}

func (c *Client) do(ctx context.Context, method, path, accessToken, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := strings.TrimSpace(string(raw))
		var payload struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
			msg = payload.Error
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
