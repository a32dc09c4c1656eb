// Package rulesprovider fetches the exchange's symbol-rule snapshot that
// C1, the Symbol Registry, compiles at startup.
//
// Grounded on internal/market/scanner.go's fetchMarkets: a paginated resty
// GET loop accumulating pages until a short page signals the end.
package rulesprovider

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"triarb/internal/config"
	"triarb/internal/errs"
	"triarb/pkg/types"
)

// exchangeSymbol is the wire shape of one row of the exchange's rules
// endpoint, before conversion to types.SymbolRule.
type exchangeSymbol struct {
	SymbolID   string `json:"symbol"`
	BaseAsset  string `json:"baseAsset"`
	QuoteAsset string `json:"quoteAsset"`
	Status     string `json:"status"`
	IsSpotPermitted bool `json:"isSpotTradingAllowed"`
	Filters    []struct {
		FilterType  string `json:"filterType"`
		TickSize    string `json:"tickSize"`
		StepSize    string `json:"stepSize"`
		MinQty      string `json:"minQty"`
		MinNotional string `json:"minNotional"`
	} `json:"filters"`
}

type exchangeRulesPage struct {
	Symbols []exchangeSymbol `json:"symbols"`
}

// Provider fetches the exchange rules snapshot over REST.
type Provider struct {
	http *resty.Client
}

// New builds a Provider pointed at cfg.RulesBaseURL.
func New(cfg config.ExchangeConfig) *Provider {
	client := resty.New().
		SetBaseURL(cfg.RulesBaseURL).
		SetTimeout(15 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second)

	return &Provider{http: client}
}

// Fetch retrieves the full rules snapshot, paginated by offset/limit, and
// converts it into the SymbolRule shape the registry compiles.
func (p *Provider) Fetch(ctx context.Context) ([]types.SymbolRule, error) {
	var all []exchangeSymbol
	offset := 0
	limit := 500

	for {
		var page exchangeRulesPage
		resp, err := p.http.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"limit":  strconv.Itoa(limit),
				"offset": strconv.Itoa(offset),
			}).
			SetResult(&page).
			Get("/api/v3/exchangeInfo")
		if err != nil {
			return nil, fmt.Errorf("%w: fetch rules page offset=%d: %v", errs.ErrTransportLost, offset, err)
		}
		if resp.StatusCode() != 200 {
			return nil, fmt.Errorf("%w: fetch rules: status %d", errs.ErrTransportLost, resp.StatusCode())
		}

		all = append(all, page.Symbols...)

		if len(page.Symbols) < limit {
			break
		}
		offset += limit
	}

	rules := make([]types.SymbolRule, 0, len(all))
	for _, sym := range all {
		rule, err := convertRule(sym)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func convertRule(sym exchangeSymbol) (types.SymbolRule, error) {
	status := types.StatusOther
	if sym.Status == "TRADING" {
		status = types.StatusTrading
	}

	rule := types.SymbolRule{
		SymbolID:   sym.SymbolID,
		Base:       sym.BaseAsset,
		Quote:      sym.QuoteAsset,
		Status:     status,
		SpotPermit: sym.IsSpotPermitted,
	}

	for _, f := range sym.Filters {
		switch f.FilterType {
		case "PRICE_FILTER":
			tick, err := decodeDecimal(f.TickSize)
			if err != nil {
				return types.SymbolRule{}, fmt.Errorf("%w: symbol %s price_tick: %v", errs.ErrDecode, sym.SymbolID, err)
			}
			rule.PriceTick = tick
		case "LOT_SIZE":
			step, err := decodeDecimal(f.StepSize)
			if err != nil {
				return types.SymbolRule{}, fmt.Errorf("%w: symbol %s qty_step: %v", errs.ErrDecode, sym.SymbolID, err)
			}
			rule.QtyStep = step
			minQty, err := decodeDecimal(f.MinQty)
			if err != nil {
				return types.SymbolRule{}, fmt.Errorf("%w: symbol %s min_qty: %v", errs.ErrDecode, sym.SymbolID, err)
			}
			rule.MinQty = minQty
		case "MIN_NOTIONAL", "NOTIONAL":
			rule.HasNotional = true
			minNotional, err := decodeDecimal(f.MinNotional)
			if err != nil {
				return types.SymbolRule{}, fmt.Errorf("%w: symbol %s min_notional: %v", errs.ErrDecode, sym.SymbolID, err)
			}
			rule.MinNotional = minNotional
		}
	}

	return rule, nil
}

func decodeDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}
