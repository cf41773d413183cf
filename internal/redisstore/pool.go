package redisstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/orrn/printq/internal/core"
)

func (s *Store) LoadPool(ctx context.Context) ([]core.Printer, error) {
	names, err := s.rdb.ZRange(ctx, s.key("pool"), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list pool printers: %w", err)
	}
	if len(names) == 0 {
		return nil, nil
	}

	values, err := s.rdb.HMGet(ctx, s.key("pool:meta"), names...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load pool metadata: %w", err)
	}

	printers := make([]core.Printer, 0, len(names))
	for i, v := range values {
		data, ok := v.(string)
		if !ok {
			continue
		}
		var p core.Printer
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			return nil, fmt.Errorf("failed to decode printer %s: %w", names[i], err)
		}
		p.Name = names[i]
		p.Status = core.PrinterUnknown
		p.LastCheckedAt = nil
		printers = append(printers, p)
	}

	return printers, nil
}

func (s *Store) SavePrinter(ctx context.Context, p core.Printer) error {
	p.Status = core.PrinterUnknown
	p.LastCheckedAt = nil
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode printer: %w", err)
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAddNX(ctx, s.key("pool"), redis.Z{Score: float64(p.RegisteredAt.UnixNano()), Member: p.Name})
		pipe.HSet(ctx, s.key("pool:meta"), p.Name, data)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save printer: %w", err)
	}
	return nil
}

func (s *Store) DeletePrinter(ctx context.Context, name string) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, s.key("pool"), name)
		pipe.HDel(ctx, s.key("pool:meta"), name)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete printer: %w", err)
	}
	return nil
}
