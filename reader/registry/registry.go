// Package registry wires every supported (exchange, inst_type) source. The
// set is fixed at build time; configuration can only disable or tune entries.
package registry

import (
	"context"
	"fmt"
	"sort"

	"marketsync/config"
	"marketsync/logger"
	"marketsync/models"
	"marketsync/reader"
	"marketsync/reader/binance"
	"marketsync/reader/bitget"
	"marketsync/reader/bitmart"
	"marketsync/reader/bybit"
	"marketsync/reader/gate"
	"marketsync/reader/kucoin"
	"marketsync/reader/mexc"
	"marketsync/reader/okx"
)

// Factory constructs one adapter.
type Factory func(rc config.ReaderConfig, opts reader.Options) reader.Source

func plain(fn func(reader.Options) reader.Source) Factory {
	return func(_ config.ReaderConfig, opts reader.Options) reader.Source { return fn(opts) }
}

var factories = map[reader.Key]Factory{
	{Exchange: binance.Exchange, InstType: models.InstSpot}: plain(binance.NewSpot),
	{Exchange: binance.Exchange, InstType: models.InstPerp}: plain(binance.NewPerp),
	{Exchange: bybit.Exchange, InstType: models.InstSpot}:   plain(bybit.NewSpot),
	{Exchange: bybit.Exchange, InstType: models.InstPerp}:   plain(bybit.NewPerp),
	{Exchange: okx.Exchange, InstType: models.InstSpot}:     plain(okx.NewSpot),
	{Exchange: okx.Exchange, InstType: models.InstPerp}:     plain(okx.NewPerp),
	{Exchange: bitget.Exchange, InstType: models.InstSpot}:  plain(bitget.NewSpot),
	{Exchange: bitget.Exchange, InstType: models.InstPerp}:  plain(bitget.NewPerp),
	{Exchange: bitmart.Exchange, InstType: models.InstSpot}: plain(bitmart.NewSpot),
	{Exchange: bitmart.Exchange, InstType: models.InstPerp}: plain(bitmart.NewPerp),
	{Exchange: gate.Exchange, InstType: models.InstPerp}:    plain(gate.NewPerp),
	{Exchange: mexc.Exchange, InstType: models.InstSpot}:    plain(mexc.NewSpot),
	{Exchange: kucoin.Exchange, InstType: models.InstPerp}:  kucoin.NewPerp,
}

// Keys lists every supported source in name order.
func Keys() []reader.Key {
	keys := make([]reader.Key, 0, len(factories))
	for k := range factories {
		keys = append(keys, k)
	}
	sortKeys(keys)
	return keys
}

func sortKeys(keys []reader.Key) {
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
}

// Resolver maps an exchange name to its numeric id in the metadata store.
type Resolver interface {
	ExchangeID(ctx context.Context, exchange string) (int, error)
}

type Registry struct {
	sources map[reader.Key]reader.Source
	keys    []reader.Key
}

// New builds the enabled sources. Each exchange id is resolved exactly once
// and shared by the spot and perp adapters of that exchange. Exchanges the
// metadata store does not know are skipped with a warning.
func New(ctx context.Context, rc config.ReaderConfig, resolver Resolver) (*Registry, error) {
	return build(ctx, rc, resolver, factories)
}

func build(ctx context.Context, rc config.ReaderConfig, resolver Resolver, fs map[reader.Key]Factory) (*Registry, error) {
	log := logger.GetLogger().WithComponent("registry")
	reg := &Registry{sources: make(map[reader.Key]reader.Source)}
	ids := make(map[string]int)
	failed := make(map[string]bool)

	keys := make([]reader.Key, 0, len(fs))
	for k := range fs {
		keys = append(keys, k)
	}
	sortKeys(keys)

	for _, key := range keys {
		srcCfg := rc.Source(key.String())
		if srcCfg.Disabled {
			log.WithFields(logger.Fields{"source": key.String()}).Info("source disabled via configuration")
			continue
		}
		if failed[key.Exchange] {
			continue
		}
		id, ok := ids[key.Exchange]
		if !ok {
			var err error
			id, err = resolver.ExchangeID(ctx, key.Exchange)
			if err != nil {
				if ctx.Err() != nil {
					return nil, fmt.Errorf("resolve exchange %s: %w", key.Exchange, err)
				}
				failed[key.Exchange] = true
				log.WithError(err).WithFields(logger.Fields{"exchange": key.Exchange}).Warn("exchange id not resolved, skipping its sources")
				continue
			}
			ids[key.Exchange] = id
		}

		opts := reader.Options{
			ExchangeID: id,
			HTTPClient: reader.NewHTTPClient(rc, srcCfg),
			Source:     srcCfg,
		}
		reg.sources[key] = fs[key](rc, opts)
		reg.keys = append(reg.keys, key)
	}

	if len(reg.keys) == 0 {
		return nil, fmt.Errorf("no sources available")
	}
	return reg, nil
}

func (r *Registry) Get(key reader.Key) (reader.Source, bool) {
	s, ok := r.sources[key]
	return s, ok
}

// Sources returns the enabled sources in name order.
func (r *Registry) Sources() []reader.Source {
	out := make([]reader.Source, 0, len(r.keys))
	for _, k := range r.keys {
		out = append(out, r.sources[k])
	}
	return out
}

// ByExchange groups the enabled sources by exchange name.
func (r *Registry) ByExchange() map[string][]reader.Source {
	out := make(map[string][]reader.Source)
	for _, k := range r.keys {
		out[k.Exchange] = append(out[k.Exchange], r.sources[k])
	}
	return out
}
