package webclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/mbd888/tradematch/internal/config"
	"github.com/mbd888/tradematch/internal/metrics"
	"github.com/mbd888/tradematch/internal/model"
	"github.com/mbd888/tradematch/internal/traces"
)

// TradeResult is the aggregated outcome of a (possibly split) trade
// submission.
type TradeResult struct {
	// OfferIDs holds one trade-offer identifier per sub-trade dispatched.
	OfferIDs []string
	// NeedsMobileConfirmation is true if any sub-trade requires mobile
	// two-factor confirmation before it is accepted by the platform.
	NeedsMobileConfirmation bool
}

type tradeOfferWire struct {
	Assetid   string `json:"assetid"`
	Amount    int    `json:"amount"`
	Appid     uint32 `json:"appid"`
	Contextid string `json:"contextid"`
}

type tradeOfferBody struct {
	NewVersion bool             `json:"newversion"`
	Version    int              `json:"version"`
	Me         tradeOfferAssets `json:"me"`
	Them       tradeOfferAssets `json:"them"`
}

type tradeOfferAssets struct {
	Assets   []tradeOfferWire `json:"assets"`
	Currency []any            `json:"currency"`
	Ready    bool             `json:"ready"`
}

type tradeOfferResponse struct {
	TradeOfferID            string `json:"tradeofferid"`
	NeedsMobileConfirmation bool   `json:"needs_mobile_confirmation"`
	NeedsEmailConfirmation  bool   `json:"needs_email_confirmation"`
}

// SubmitTrade dispatches a fair item-for-item swap to partnerID. If
// forceSingleOffer is false and len(itemsToGive)+len(itemsToReceive)
// exceeds MaxItemsPerTrade, the assets are split across up to
// MaxTradesPerAccount sub-trades, each POSTed independently and
// aggregated into a single TradeResult.
func (c *Client) SubmitTrade(ctx context.Context, partnerID uint64, itemsToGive, itemsToReceive []model.Asset, tradeToken string, forceSingleOffer bool) (TradeResult, error) {
	ctx, span := traces.StartSpan(ctx, "webclient.submit_trade", traces.PartnerID(partnerID))
	defer span.End()

	if len(itemsToGive) != len(itemsToReceive) {
		return TradeResult{}, fmt.Errorf("webclient: trade must be item-for-item: give=%d receive=%d", len(itemsToGive), len(itemsToReceive))
	}

	batches, err := splitTrade(itemsToGive, itemsToReceive, forceSingleOffer)
	if err != nil {
		return TradeResult{}, err
	}

	var result TradeResult
	for _, batch := range batches {
		resp, err := c.dispatchOneTrade(ctx, partnerID, batch.give, batch.receive, tradeToken)
		if err != nil {
			metrics.TradesDispatchedTotal.WithLabelValues("failed").Inc()
			return result, err
		}
		metrics.TradesDispatchedTotal.WithLabelValues("ok").Inc()
		result.OfferIDs = append(result.OfferIDs, resp.TradeOfferID)
		if resp.NeedsMobileConfirmation {
			result.NeedsMobileConfirmation = true
		}
	}
	return result, nil
}

type tradeBatch struct {
	give, receive []model.Asset
}

// splitTrade partitions give/receive pairs into at most
// MaxTradesPerAccount batches, each with at most MaxItemsPerTrade
// combined assets, preserving the give[i]<->receive[i] pairing.
func splitTrade(give, receive []model.Asset, forceSingleOffer bool) ([]tradeBatch, error) {
	if forceSingleOffer || len(give)+len(receive) <= config.MaxItemsPerTrade {
		return []tradeBatch{{give: give, receive: receive}}, nil
	}

	perBatch := config.MaxItemsPerTrade / 2
	if perBatch < 1 {
		perBatch = 1
	}

	var batches []tradeBatch
	for start := 0; start < len(give); start += perBatch {
		end := start + perBatch
		if end > len(give) {
			end = len(give)
		}
		batches = append(batches, tradeBatch{give: give[start:end], receive: receive[start:end]})
	}

	if len(batches) > config.MaxTradesPerAccount {
		return nil, fmt.Errorf("webclient: trade requires %d sub-trades, exceeds MaxTradesPerAccount(%d)", len(batches), config.MaxTradesPerAccount)
	}
	return batches, nil
}

func (c *Client) dispatchOneTrade(ctx context.Context, partnerID uint64, give, receive []model.Asset, tradeToken string) (tradeOfferResponse, error) {
	body := tradeOfferBody{
		NewVersion: true,
		Version:    1,
		Me:         tradeOfferAssets{Assets: toWireAssets(give), Currency: []any{}, Ready: false},
		Them:       tradeOfferAssets{Assets: toWireAssets(receive), Currency: []any{}, Ready: false},
	}
	rawBody, err := json.Marshal(body)
	if err != nil {
		return tradeOfferResponse{}, fmt.Errorf("webclient: encoding trade offer: %w", err)
	}

	params := map[string]any{
		"trade_offer_access_token": tradeToken,
	}
	rawParams, err := json.Marshal(params)
	if err != nil {
		return tradeOfferResponse{}, fmt.Errorf("webclient: encoding trade offer params: %w", err)
	}

	form := url.Values{}
	form.Set("partner", fmt.Sprintf("%d", partnerID))
	form.Set("json_tradeoffer", string(rawBody))
	form.Set("tradeoffermessage", "")
	form.Set("trade_offer_create_params", string(rawParams))

	resp, err := c.Post(ctx, HostCommunity, pathTradeOfferNew, WithForm(form), WithSessionMode(SessionFieldSessionID), WithDecode(DecodeJSON))
	if err != nil {
		return tradeOfferResponse{}, fmt.Errorf("webclient: submitting trade offer: %w", err)
	}

	raw, err := json.Marshal(resp)
	if err != nil {
		return tradeOfferResponse{}, fmt.Errorf("webclient: re-encoding trade offer response: %w", err)
	}
	var offer tradeOfferResponse
	if err := json.Unmarshal(raw, &offer); err != nil {
		return tradeOfferResponse{}, fmt.Errorf("webclient: decoding trade offer response: %w", err)
	}
	if offer.TradeOfferID == "" {
		return tradeOfferResponse{}, fmt.Errorf("webclient: trade offer response had no tradeofferid")
	}
	return offer, nil
}

func toWireAssets(assets []model.Asset) []tradeOfferWire {
	out := make([]tradeOfferWire, 0, len(assets))
	for _, a := range assets {
		out = append(out, tradeOfferWire{
			Assetid:   fmt.Sprintf("%d", a.AssetID),
			Amount:    int(a.Amount),
			Appid:     a.RealAppID,
			Contextid: fmt.Sprintf("%d", a.ContextID),
		})
	}
	return out
}
