package webclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/mbd888/tradematch/internal/model"
)

// InventorySemaphore is the process-wide guard serialising all inventory
// GETs across every account's Web Client. It is constructed once at the
// composition root and shared.
type InventorySemaphore struct {
	ch    chan struct{}
	delay time.Duration
}

// NewInventorySemaphore creates a semaphore that releases immediately or,
// if delay > 0, in the background after delay (InventoryLimiterDelay).
func NewInventorySemaphore(delay time.Duration) *InventorySemaphore {
	s := &InventorySemaphore{ch: make(chan struct{}, 1), delay: delay}
	s.ch <- struct{}{}
	return s
}

// Acquire blocks until the semaphore is available or ctx is cancelled.
func (s *InventorySemaphore) Acquire(ctx context.Context) error {
	select {
	case <-s.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release returns the permit. If the semaphore has a configured delay,
// the permit is returned in the background after that delay instead of
// immediately.
func (s *InventorySemaphore) Release() {
	if s.delay <= 0 {
		s.ch <- struct{}{}
		return
	}
	time.AfterFunc(s.delay, func() { s.ch <- struct{}{} })
}

// InventoryFilter restricts which assets FetchInventory admits.
type InventoryFilter struct {
	MarketableOnly bool
	TradableOnly   bool
	RealAppID      uint32 // 0 = any
	Types          []model.ItemType // empty = any
}

func (f InventoryFilter) allows(a model.Asset) bool {
	if f.MarketableOnly && !a.Marketable {
		return false
	}
	if f.TradableOnly && !a.Tradable {
		return false
	}
	if f.RealAppID != 0 && a.RealAppID != f.RealAppID {
		return false
	}
	if len(f.Types) > 0 {
		ok := false
		for _, t := range f.Types {
			if t == a.Type {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

type inventoryPage struct {
	Assets       []wireAsset                `json:"assets"`
	Descriptions []wireDescription          `json:"descriptions"`
	MoreItems    int                        `json:"more_items"`
	LastAssetID  string                     `json:"last_assetid"`
	Success      int                        `json:"success"`
}

type wireAsset struct {
	AssetID   string `json:"assetid"`
	ClassID   string `json:"classid"`
	ContextID string `json:"contextid"`
	Amount    string `json:"amount"`
}

type wireDescription struct {
	ClassID    string `json:"classid"`
	AppID      uint32 `json:"appid"`
	Type       string `json:"type"`
	Rarity     string `json:"rarity"`
	Marketable int    `json:"marketable"`
	Tradable   int    `json:"tradable"`
}

func parseItemType(wire string) model.ItemType {
	switch wire {
	case "Trading Card":
		return model.ItemTypeTradingCard
	case "Foil Trading Card":
		return model.ItemTypeFoilTradingCard
	case "Emoticon":
		return model.ItemTypeEmoticon
	case "Profile Background":
		return model.ItemTypeProfileBackground
	default:
		return model.ItemTypeUnknown
	}
}

// FetchInventory paginates GET /inventory/{account}/{app}/{context} until
// moreItems is false, decorating each asset from its class description
// and admitting it only if filter allows it. The global inventory
// semaphore serialises this across every account.
func (c *Client) FetchInventory(ctx context.Context, accountID uint64, appID, contextID uint32, filter InventoryFilter) ([]model.Asset, error) {
	if err := c.invSem.Acquire(ctx); err != nil {
		return nil, err
	}
	defer c.invSem.Release()

	var assets []model.Asset
	startAssetID := ""

	for {
		q := url.Values{}
		q.Set("count", "5000")
		q.Set("l", "english")
		if startAssetID != "" {
			q.Set("start_assetid", startAssetID)
		}

		path := fmt.Sprintf(pathInventory, accountID, appID, contextID)
		body, err := c.Get(ctx, HostCommunity, path, WithQuery(q), WithDecode(DecodeJSON))
		if err != nil {
			return nil, fmt.Errorf("webclient: fetching inventory page: %w", err)
		}

		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("webclient: re-encoding inventory page: %w", err)
		}
		var page inventoryPage
		if err := json.Unmarshal(raw, &page); err != nil {
			return nil, fmt.Errorf("webclient: decoding inventory page: %w", err)
		}

		descByClass := make(map[string]wireDescription, len(page.Descriptions))
		for _, d := range page.Descriptions {
			descByClass[d.ClassID] = d
		}

		for _, wa := range page.Assets {
			desc, ok := descByClass[wa.ClassID]
			if !ok {
				continue
			}
			a, err := decorateAsset(wa, desc)
			if err != nil {
				continue
			}
			if filter.allows(a) {
				assets = append(assets, a)
			}
		}

		if page.MoreItems == 0 {
			break
		}
		if page.LastAssetID == "" || page.LastAssetID == "0" {
			return nil, fmt.Errorf("webclient: inventory page reported more_items with no last_assetid")
		}
		startAssetID = page.LastAssetID
	}

	return assets, nil
}

func decorateAsset(wa wireAsset, desc wireDescription) (model.Asset, error) {
	var a model.Asset
	if _, err := fmt.Sscanf(wa.AssetID, "%d", &a.AssetID); err != nil {
		return a, err
	}
	if _, err := fmt.Sscanf(wa.ClassID, "%d", &a.ClassID); err != nil {
		return a, err
	}
	var ctxID uint64
	if _, err := fmt.Sscanf(wa.ContextID, "%d", &ctxID); err != nil {
		return a, err
	}
	a.ContextID = uint32(ctxID)
	var amount uint64
	if _, err := fmt.Sscanf(wa.Amount, "%d", &amount); err != nil {
		return a, err
	}
	a.Amount = uint32(amount)
	a.RealAppID = desc.AppID
	a.Type = parseItemType(desc.Type)
	a.Rarity = desc.Rarity
	a.Marketable = desc.Marketable != 0
	a.Tradable = desc.Tradable != 0
	return a, nil
}

// ToInventoryState partitions assets into (full, tradable) inventory
// state keyed by set.
func ToInventoryState(assets []model.Asset) *model.InventoryState {
	state := model.NewInventoryState()
	for _, a := range assets {
		set := model.SetKey{RealAppID: a.RealAppID, Type: a.Type, Rarity: a.Rarity}
		state.Add(set, a.ClassID, a.Amount, a.Tradable)
	}
	return state
}

// ClassInstances groups tradable assets of a given class within a set,
// used when materializing give/receive asset ID lists for a trade.
func ClassInstances(assets []model.Asset, set model.SetKey, classID uint64) []model.Asset {
	var out []model.Asset
	for _, a := range assets {
		if a.RealAppID == set.RealAppID && a.Type == set.Type && a.Rarity == set.Rarity && a.ClassID == classID && a.Tradable {
			out = append(out, a)
		}
	}
	return out
}
