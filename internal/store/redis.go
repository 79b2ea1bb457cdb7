package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each table as a hash of documents plus a sorted set
// ordering the keys by index.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

// NewRedis wraps rdb. prefix namespaces every key the store touches.
func NewRedis(rdb *redis.Client, prefix string) *RedisStore {
	return &RedisStore{rdb: rdb, prefix: prefix}
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

func (s *RedisStore) dataKey(table string) string {
	return fmt.Sprintf("%stbl:%s:data", s.prefix, table)
}

func (s *RedisStore) idxKey(table string) string {
	return fmt.Sprintf("%stbl:%s:idx", s.prefix, table)
}

func (s *RedisStore) GetPage(ctx context.Context, table string, q Query) ([]Record, error) {
	if len(q.Filter) == 0 && q.SortBy != SortByKey {
		return s.rangeByIndex(ctx, table, q)
	}

	docs, err := s.rdb.HGetAll(ctx, s.dataKey(table)).Result()
	if err != nil {
		return nil, err
	}
	scores, err := s.rdb.ZRangeWithScores(ctx, s.idxKey(table), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	index := make(map[string]int64, len(scores))
	for _, z := range scores {
		index[z.Member.(string)] = int64(z.Score)
	}

	records := make([]Record, 0, len(docs))
	for key, doc := range docs {
		data := []byte(doc)
		if !matches(data, q.Filter) {
			continue
		}
		records = append(records, Record{Key: key, Index: index[key], Data: json.RawMessage(data)})
	}
	sortRecords(records, q.SortBy, q.Desc)
	return paginate(records, q), nil
}

// rangeByIndex serves unfiltered index-ordered reads straight from the
// sorted set. Members with equal scores come back in key order.
func (s *RedisStore) rangeByIndex(ctx context.Context, table string, q Query) ([]Record, error) {
	offset, limit := q.bounds()
	start, stop := int64(offset), int64(-1)
	if limit >= 0 {
		stop = int64(offset + limit - 1)
	}

	var (
		scores []redis.Z
		err    error
	)
	if q.Desc {
		scores, err = s.rdb.ZRevRangeWithScores(ctx, s.idxKey(table), start, stop).Result()
	} else {
		scores, err = s.rdb.ZRangeWithScores(ctx, s.idxKey(table), start, stop).Result()
	}
	if err != nil {
		return nil, err
	}
	if len(scores) == 0 {
		return nil, nil
	}

	keys := make([]string, len(scores))
	for i, z := range scores {
		keys[i] = z.Member.(string)
	}
	docs, err := s.rdb.HMGet(ctx, s.dataKey(table), keys...).Result()
	if err != nil {
		return nil, err
	}

	records := make([]Record, 0, len(keys))
	for i, doc := range docs {
		str, ok := doc.(string)
		if !ok {
			// index entry without a document; skip it
			continue
		}
		records = append(records, Record{
			Key:   keys[i],
			Index: int64(scores[i].Score),
			Data:  json.RawMessage(str),
		})
	}
	return records, nil
}

func (s *RedisStore) SaveAll(ctx context.Context, table string, records []Record) error {
	if err := validate(records); err != nil {
		return err
	}
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.dataKey(table), s.idxKey(table))
		s.write(ctx, pipe, table, records)
		return nil
	})
	return err
}

func (s *RedisStore) UpsertAll(ctx context.Context, table string, records []Record) error {
	if err := validate(records); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		s.write(ctx, pipe, table, records)
		return nil
	})
	return err
}

func (s *RedisStore) write(ctx context.Context, pipe redis.Pipeliner, table string, records []Record) {
	if len(records) == 0 {
		return
	}
	fields := make(map[string]any, len(records))
	members := make([]redis.Z, 0, len(records))
	for _, r := range records {
		fields[r.Key] = string(r.Data)
		members = append(members, redis.Z{Score: float64(r.Index), Member: r.Key})
	}
	pipe.HSet(ctx, s.dataKey(table), fields)
	pipe.ZAdd(ctx, s.idxKey(table), members...)
}

func (s *RedisStore) Delete(ctx context.Context, table string, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	members := make([]any, len(keys))
	for i, k := range keys {
		members[i] = k
	}
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, s.dataKey(table), keys...)
		pipe.ZRem(ctx, s.idxKey(table), members...)
		return nil
	})
	return err
}

func (s *RedisStore) Clear(ctx context.Context, table string) error {
	return s.rdb.Del(ctx, s.dataKey(table), s.idxKey(table)).Err()
}
