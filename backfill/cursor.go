// Package backfill turns a source's paginated candle endpoint into a
// resumable, gap-free stream of canonical candle batches.
package backfill

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"marketsync/logger"
	"marketsync/models"
	"marketsync/reader"
)

// Request describes one backfill run. End == 0 means open ended. Zero
// PageLimit and Pace fall back to the source's pagination defaults.
type Request struct {
	Symbol    string
	Interval  models.Interval
	Start     int64
	End       int64
	PageLimit int
	Pace      time.Duration
}

// Cursor is a forward-only iterator over candle batches. It is used like
// bufio.Scanner:
//
//	c := backfill.New(src, req)
//	for c.Next(ctx) {
//		store(c.Batch())
//	}
//	if err := c.Err(); err != nil { ... }
//
// The next page is requested only when Next is called again, so callers
// persist each batch before more data is fetched.
type Cursor struct {
	src      reader.Source
	req      Request
	limit    int
	limiter  *rate.Limiter
	position int64
	token    string
	batch    []models.Candle
	pages    int
	skipped  int
	total    int
	err      error
	done     bool
}

func New(src reader.Source, req Request) *Cursor {
	p := src.Pagination()
	limit := req.PageLimit
	if limit <= 0 {
		limit = p.PageLimit
	}
	pace := req.Pace
	if pace <= 0 {
		pace = p.Pace
	}
	every := rate.Inf
	if pace > 0 {
		every = rate.Every(pace)
	}
	return &Cursor{
		src:      src,
		req:      req,
		limit:    limit,
		limiter:  rate.NewLimiter(every, 1),
		position: req.Start,
	}
}

// Next fetches the next page and reports whether a non-empty batch is
// available. It returns false once the stream is exhausted or on error.
// Empty windows reported by windowed sources are stepped over until a
// window holds data or the request end is reached.
func (c *Cursor) Next(ctx context.Context) bool {
	c.batch = nil
	if c.done || c.err != nil {
		return false
	}
	if c.limit <= 0 {
		c.err = fmt.Errorf("backfill %s: page limit must be positive", c.req.Symbol)
		return false
	}
	for {
		if c.req.End > 0 && c.position >= c.req.End {
			c.done = true
			return false
		}
		page, batch, ok := c.fetch(ctx)
		if !ok {
			return false
		}
		if len(batch) == 0 {
			if c.stepWindow(page) {
				continue
			}
			c.done = true
			return false
		}

		c.batch = batch
		c.total += len(batch)
		c.position = batch[len(batch)-1].Timestamp + c.req.Interval.Millis()
		c.token = page.NextCursor
		switch {
		case page.Exhausted:
			c.done = true
		case page.WindowEnd > 0:
			if page.WindowEnd > c.position {
				c.position = page.WindowEnd
			}
		case len(page.Records) < c.limit:
			c.done = true
		}
		if c.req.End > 0 && c.position >= c.req.End {
			c.done = true
		}

		c.log().WithFields(logger.Fields{
			"page":    c.pages,
			"records": len(batch),
			"next":    c.position,
		}).Debug("page fetched")
		return true
	}
}

func (c *Cursor) fetch(ctx context.Context) (reader.Page, []models.Candle, bool) {
	if err := c.limiter.Wait(ctx); err != nil {
		c.err = err
		return reader.Page{}, nil, false
	}
	page, err := c.src.FetchCandlePage(ctx, reader.PageRequest{
		Symbol:   c.req.Symbol,
		Interval: c.req.Interval,
		Start:    c.position,
		End:      c.req.End,
		Limit:    c.limit,
		Cursor:   c.token,
	})
	if err != nil {
		c.err = err
		return reader.Page{}, nil, false
	}
	c.pages++

	batch := make([]models.Candle, 0, len(page.Records))
	last := c.position - 1
	for _, raw := range page.Records {
		candle, err := c.src.FormatRecord(c.req.Symbol, raw)
		if err != nil {
			c.err = reader.Unavailable(c.src.Key().String(), "format", err)
			return reader.Page{}, nil, false
		}
		if candle.Timestamp <= last || (c.req.End > 0 && candle.Timestamp >= c.req.End) {
			continue
		}
		last = candle.Timestamp
		batch = append(batch, candle)
	}
	return page, batch, true
}

// stepWindow moves past a windowed page that held no bars. Open ended
// requests stop instead, since there is no bound to step towards.
func (c *Cursor) stepWindow(page reader.Page) bool {
	if page.Exhausted || page.WindowEnd <= c.position || c.req.End <= 0 {
		return false
	}
	c.skipped++
	c.log().WithFields(logger.Fields{
		"from": c.position,
		"to":   page.WindowEnd,
	}).Debug("empty window skipped")
	c.position = page.WindowEnd
	return true
}

func (c *Cursor) log() *logger.Entry {
	return logger.GetLogger().WithComponent("backfill").WithFields(logger.Fields{
		"source":   c.src.Key().String(),
		"symbol":   c.req.Symbol,
		"interval": string(c.req.Interval),
	})
}

// Batch returns the candles produced by the last successful Next.
func (c *Cursor) Batch() []models.Candle { return c.batch }

// Err returns the first fetch or format error. Running out of data is not
// an error.
func (c *Cursor) Err() error { return c.err }

// Position is the open time the next page would start from.
func (c *Cursor) Position() int64 { return c.position }

// Total is the number of candles delivered so far.
func (c *Cursor) Total() int { return c.total }

// Skipped is the number of empty windows stepped over so far.
func (c *Cursor) Skipped() int { return c.skipped }
