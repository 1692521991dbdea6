// Package bitmart adapts BitMart spot and USDT perpetual market data. Spot
// and contract APIs live on different hosts.
package bitmart

import (
	"context"
	"net/url"
	"strconv"

	"marketsync/models"
	"marketsync/reader"
)

const (
	Exchange       = "bitmart"
	spotURL        = "https://api-cloud.bitmart.com"
	contractURL    = "https://api-cloud-v2.bitmart.com"
	okCode         = 1000
	defaultLimit   = 200
	startKeySpot   = "after"
	endKeySpot     = "before"
	startKeyFuture = "start_time"
	endKeyFuture   = "end_time"
)

var steps = map[models.Interval]string{
	models.Interval1m: "1",
	models.Interval1h: "60",
	models.Interval1d: "1440",
}

type envelope[T any] struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

func get[T any](ctx context.Context, b reader.Base, path string, params url.Values) (T, error) {
	var resp envelope[T]
	if err := reader.GetJSON(ctx, b.HTTPClient(), b.BaseURL(), path, params, &resp); err != nil {
		return resp.Data, err
	}
	if resp.Code != okCode {
		return resp.Data, &reader.APIError{Code: strconv.Itoa(resp.Code), Message: resp.Message}
	}
	return resp.Data, nil
}
