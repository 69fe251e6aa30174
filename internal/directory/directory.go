// Package directory talks to the public matching directory ("statistics
// server"): announcing an account, sending heartbeats, and listing
// candidate trade partners. Unlike the platform itself, this is a single
// low-traffic third party, so requests go through a plain *http.Client
// rather than the Web Client's rate-limiter/circuit-breaker/session
// machinery.
package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/mbd888/tradematch/internal/model"
)

const (
	pathAnnounce = "/Api/Announce"
	pathHeart    = "/Api/HeartBeat"
	pathBots     = "/Api/Bots"
)

// Client talks to the matching directory.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// New constructs a directory Client against baseURL (the configured
// StatisticsServer).
func New(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// AnnounceRequest is the body of POST /Api/Announce.
type AnnounceRequest struct {
	Guid            string
	AccountID       uint64
	Nickname        string
	AvatarHash      string
	ItemsCount      int
	GamesCount      int
	MatchableTypes  []model.ItemType
	MatchEverything bool
	TradeToken      string
}

// Announce registers the account with the directory. Success is defined
// as any non-4xx response, per spec.md §6.
func (c *Client) Announce(ctx context.Context, req AnnounceRequest) error {
	typeIDs := make([]int, len(req.MatchableTypes))
	for i, t := range req.MatchableTypes {
		typeIDs[i] = int(t)
	}
	typesJSON, err := json.Marshal(typeIDs)
	if err != nil {
		return fmt.Errorf("directory: encoding matchable types: %w", err)
	}

	form := url.Values{}
	form.Set("AvatarHash", req.AvatarHash)
	form.Set("GamesCount", strconv.Itoa(req.GamesCount))
	form.Set("Guid", req.Guid)
	form.Set("ItemsCount", strconv.Itoa(req.ItemsCount))
	form.Set("MatchableTypes", string(typesJSON))
	form.Set("MatchEverything", boolField(req.MatchEverything))
	form.Set("Nickname", req.Nickname)
	form.Set("SteamID", strconv.FormatUint(req.AccountID, 10))
	form.Set("TradeToken", req.TradeToken)

	return c.post(ctx, pathAnnounce, form)
}

// HeartBeat pings the directory to keep the account's listing alive.
func (c *Client) HeartBeat(ctx context.Context, guid string, accountID uint64) error {
	form := url.Values{}
	form.Set("Guid", guid)
	form.Set("SteamID", strconv.FormatUint(accountID, 10))
	return c.post(ctx, pathHeart, form)
}

func (c *Client) post(ctx context.Context, path string, form url.Values) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewBufferString(form.Encode()))
	if err != nil {
		return fmt.Errorf("directory: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("directory: %s: %w", path, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return fmt.Errorf("directory: %s returned %d", path, resp.StatusCode)
	}
	return nil
}

// wireListedUser is the /Api/Bots wire shape. Fields the client does not
// recognize are ignored by encoding/json already; parseItemType-style
// defensiveness covers fields whose *values* (not names) are unexpected.
type wireListedUser struct {
	SteamID              uint64 `json:"steam_id"`
	TradeToken           string `json:"trade_token"`
	GamesCount           uint16 `json:"games_count"`
	ItemsCount           uint16 `json:"items_count"`
	MatchableBackgrounds int    `json:"matchable_backgrounds"`
	MatchableCards       int    `json:"matchable_cards"`
	MatchableEmoticons   int    `json:"matchable_emoticons"`
	MatchableFoilCards   int    `json:"matchable_foil_cards"`
	MatchEverything      int    `json:"match_everything"`
}

// ListBots fetches the set of listed users currently in the directory.
// matchEverything restricts the query to users who accept anything.
func (c *Client) ListBots(ctx context.Context, matchEverything bool) ([]model.ListedUser, error) {
	q := url.Values{}
	q.Set("matchEverything", boolField(matchEverything))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+pathBots+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("directory: building request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("directory: %s: %w", pathBots, err)
	}
	defer resp.Body.Close()

	var wire []wireListedUser
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("directory: decoding bots response: %w", err)
	}

	users := make([]model.ListedUser, 0, len(wire))
	for _, w := range wire {
		c.logUnknownFlags(w)
		users = append(users, decorateListedUser(w))
	}
	return users, nil
}

// logUnknownFlags warns about wire flag values outside {0,1}; per
// spec.md §6 these are logged and ignored rather than rejected.
func (c *Client) logUnknownFlags(w wireListedUser) {
	for name, v := range map[string]int{
		"matchable_backgrounds": w.MatchableBackgrounds,
		"matchable_cards":       w.MatchableCards,
		"matchable_emoticons":   w.MatchableEmoticons,
		"matchable_foil_cards":  w.MatchableFoilCards,
		"match_everything":      w.MatchEverything,
	} {
		if v != 0 && v != 1 {
			c.logger.Warn("directory: unexpected flag value, ignoring", "field", name, "value", v, "steam_id", w.SteamID)
		}
	}
}

func decorateListedUser(w wireListedUser) model.ListedUser {
	return model.ListedUser{
		SteamID:    w.SteamID,
		TradeToken: w.TradeToken,
		GamesCount: w.GamesCount,
		ItemsCount: w.ItemsCount,
		Matchable: map[model.ItemType]bool{
			model.ItemTypeProfileBackground: asBool(w.MatchableBackgrounds),
			model.ItemTypeTradingCard:       asBool(w.MatchableCards),
			model.ItemTypeEmoticon:          asBool(w.MatchableEmoticons),
			model.ItemTypeFoilTradingCard:   asBool(w.MatchableFoilCards),
		},
		MatchEverything: asBool(w.MatchEverything),
	}
}

// asBool maps a wire flag to a bool. Only 1 sets the flag; values
// outside {0,1} are ignored and leave it unset.
func asBool(v int) bool { return v == 1 }

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
