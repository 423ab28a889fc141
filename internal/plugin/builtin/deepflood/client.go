package deepflood

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"forumsign/internal/httpx"
	"forumsign/internal/signin"
)

// client talks to the forum JSON API through the plugin dispatcher.
type client struct {
	disp   *httpx.Dispatcher
	base   string
	cookie string
	random bool
}

func newClient(disp *httpx.Dispatcher, c Config) *client {
	return &client{disp: disp, base: c.BaseURL, cookie: c.Cookie, random: c.RandomChoice}
}

func (c *client) request(method, path string) *httpx.Request {
	req := httpx.NewRequest(method, c.base+path)
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Cookie", c.cookie)
	req.Header.Set("Origin", c.base)
	req.Header.Set("Referer", c.base+"/board")
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/json")
	}
	req.ExpectJSON = true
	return req
}

// attend posts the check-in and classifies the answer. A non-JSON answer
// nobody recognizes is retried once on the remaining strategies.
func (c *client) attend(ctx context.Context) (signin.Attempt, error) {
	const op = "attendance"
	req := c.request(http.MethodPost, "/api/attendance?random="+strconv.FormatBool(c.random))

	resp, err := c.disp.Do(ctx, req)
	if err != nil {
		if errors.Is(err, httpx.ErrBlocked) && resp != nil && !resp.IsHTML() && json.Valid(resp.Body) {
			// Forum errors come back as 400/403 with a JSON body.
			att, _ := classify(resp.StatusCode, resp.Body)
			return att, nil
		}
		return signin.Attempt{}, fmt.Errorf("%s: %w", op, err)
	}
	att, ok := classify(resp.StatusCode, resp.Body)
	if ok {
		return att, nil
	}

	retry, rerr := c.disp.From(ctx, resp.Strategy, req)
	if rerr == nil {
		if att2, ok := classify(retry.StatusCode, retry.Body); ok {
			return att2, nil
		}
	}
	return att, signin.Errorf(signin.KindUnexpectedResponse, op, "unrecognized response (HTTP %d): %s", resp.StatusCode, att.Message)
}

// boardRecord is the account's latest entry on the attendance board.
type boardRecord struct {
	Rank      int
	Gain      int
	Total     int
	CreatedAt time.Time
}

type boardResponse struct {
	Success bool `json:"success"`
	Record  *struct {
		Rank      flexInt `json:"rank"`
		Gain      flexInt `json:"gain"`
		CreatedAt string  `json:"created_at"`
	} `json:"record"`
	Total flexInt `json:"total"`
}

func (c *client) board(ctx context.Context) (boardRecord, error) {
	var out boardResponse
	if err := c.getJSON(ctx, "/api/attendance/board?page=1", &out); err != nil {
		return boardRecord{}, err
	}
	if out.Record == nil {
		return boardRecord{}, errors.New("board: no record for this account")
	}
	rec := boardRecord{Rank: int(out.Record.Rank), Gain: int(out.Record.Gain), Total: int(out.Total)}
	if out.Record.CreatedAt != "" {
		t, err := parseTime(out.Record.CreatedAt)
		if err != nil {
			return rec, fmt.Errorf("board: %w", err)
		}
		rec.CreatedAt = t
	}
	return rec, nil
}

// UserInfo is the member profile shown in success notifications.
type UserInfo struct {
	MemberID   int    `json:"member_id"`
	MemberName string `json:"member_name"`
	Rank       int    `json:"rank"`
	Coin       int    `json:"coin"`
	Stardust   int    `json:"stardust"`
}

func (c *client) userInfo(ctx context.Context, memberID string) (UserInfo, error) {
	var out struct {
		Success bool `json:"success"`
		Detail  *struct {
			MemberID   flexInt `json:"member_id"`
			MemberName string  `json:"member_name"`
			Rank       flexInt `json:"rank"`
			Coin       flexInt `json:"coin"`
			Stardust   flexInt `json:"stardust"`
		} `json:"detail"`
	}
	if err := c.getJSON(ctx, "/api/account/getInfo/"+memberID+"?readme=1", &out); err != nil {
		return UserInfo{}, err
	}
	if out.Detail == nil {
		return UserInfo{}, fmt.Errorf("user info %s: empty detail", memberID)
	}
	d := out.Detail
	return UserInfo{
		MemberID:   int(d.MemberID),
		MemberName: d.MemberName,
		Rank:       int(d.Rank),
		Coin:       int(d.Coin),
		Stardust:   int(d.Stardust),
	}, nil
}

// creditRow is one ledger line: [amount, balance, description, created_at].
type creditRow struct {
	Amount      int
	Balance     int
	Description string
	CreatedAt   time.Time
}

func (c *client) creditPage(ctx context.Context, page int) ([]creditRow, error) {
	var out struct {
		Success bool                `json:"success"`
		Data    [][]json.RawMessage `json:"data"`
	}
	if err := c.getJSON(ctx, "/api/account/credit/page-"+strconv.Itoa(page), &out); err != nil {
		return nil, err
	}
	rows := make([]creditRow, 0, len(out.Data))
	for i, cols := range out.Data {
		row, err := parseCreditRow(cols)
		if err != nil {
			return rows, fmt.Errorf("credit page %d row %d: %w", page, i, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func parseCreditRow(cols []json.RawMessage) (creditRow, error) {
	if len(cols) < 4 {
		return creditRow{}, fmt.Errorf("want 4 columns, got %d", len(cols))
	}
	var (
		amount, balance flexInt
		desc, created   string
	)
	if err := json.Unmarshal(cols[0], &amount); err != nil {
		return creditRow{}, err
	}
	if err := json.Unmarshal(cols[1], &balance); err != nil {
		return creditRow{}, err
	}
	if err := json.Unmarshal(cols[2], &desc); err != nil {
		return creditRow{}, err
	}
	if err := json.Unmarshal(cols[3], &created); err != nil {
		return creditRow{}, err
	}
	t, err := parseTime(created)
	if err != nil {
		return creditRow{}, err
	}
	return creditRow{Amount: int(amount), Balance: int(balance), Description: desc, CreatedAt: t}, nil
}

func (c *client) getJSON(ctx context.Context, path string, v any) error {
	resp, err := c.disp.Do(ctx, c.request(http.MethodGet, path))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: HTTP %d", path, resp.StatusCode)
	}
	if err := json.Unmarshal(resp.Body, v); err != nil {
		return fmt.Errorf("GET %s: decode: %w", path, err)
	}
	return nil
}

// Timestamps without a zone are UTC.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}
