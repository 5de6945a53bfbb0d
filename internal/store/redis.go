package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/redis/go-redis/v9"

	"temple-safety/internal/status"
	"temple-safety/models"
	"temple-safety/utils"
)

// RedisStore shares state between processes. Sites are JSON values guarded
// by WATCH/MULTI on their key; queue and emergency indexes are sorted sets.
type RedisStore struct {
	client    *redis.Client
	retention int
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(client *redis.Client, retention int) *RedisStore {
	return &RedisStore{client: client, retention: retention}
}

func OpenRedisStore(ctx context.Context, url string, retention int) (*RedisStore, error) {
	client, err := utils.NewRedisClient(ctx, url)
	if err != nil {
		return nil, err
	}
	return NewRedisStore(client, retention), nil
}

func siteKey(id string) string { return fmt.Sprintf("site:%s", id) }
func entryKey(id string) string { return fmt.Sprintf("queue:entry:%s", id) }
func tokenKey(token string) string { return fmt.Sprintf("queue:token:%s", token) }
func siteQueueKey(id string) string { return fmt.Sprintf("queue:site:%s", id) }
func emergencyKey(id string) string { return fmt.Sprintf("emergency:%s", id) }
func analyticsKey(id string) string { return fmt.Sprintf("analytics:%s", id) }

const (
	sitesKey       = "sites"
	queueSeqKey    = "queue:seq"
	emergenciesKey = "emergencies"
)

func (r *RedisStore) CreateSite(ctx context.Context, site models.Site) (models.Site, error) {
	site.Version = 1
	data, err := json.Marshal(site)
	if err != nil {
		return models.Site{}, err
	}

	ok, err := r.client.SetNX(ctx, siteKey(site.ID), data, 0).Result()
	if err != nil {
		return models.Site{}, fmt.Errorf("create site %s: %w", site.ID, err)
	}
	if !ok {
		return models.Site{}, status.ErrSiteExists
	}
	if err := r.client.SAdd(ctx, sitesKey, site.ID).Err(); err != nil {
		return models.Site{}, fmt.Errorf("index site %s: %w", site.ID, err)
	}
	return site, nil
}

func (r *RedisStore) GetSite(ctx context.Context, id string) (models.Site, error) {
	return getJSON[models.Site](ctx, r.client, siteKey(id), status.ErrSiteNotFound)
}

func (r *RedisStore) ListSites(ctx context.Context) ([]models.Site, error) {
	ids, err := r.client.SMembers(ctx, sitesKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list sites: %w", err)
	}
	sort.Strings(ids)

	sites := make([]models.Site, 0, len(ids))
	for _, id := range ids {
		site, err := r.GetSite(ctx, id)
		if errors.Is(err, status.ErrSiteNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		sites = append(sites, site)
	}
	return sites, nil
}

func (r *RedisStore) UpdateSite(ctx context.Context, site models.Site) (models.Site, error) {
	key := siteKey(site.ID)
	var updated models.Site

	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return status.ErrSiteNotFound
		}
		if err != nil {
			return err
		}

		var current models.Site
		if err := json.Unmarshal(data, &current); err != nil {
			return fmt.Errorf("decode site %s: %w", site.ID, err)
		}
		if current.Version != site.Version {
			return status.ErrVersionConflict
		}

		updated = site
		updated.Version++
		updated.CreatedAt = current.CreatedAt
		next, err := json.Marshal(updated)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, 0)
			return nil
		})
		return err
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return models.Site{}, status.ErrVersionConflict
	}
	if err != nil {
		return models.Site{}, err
	}
	return updated, nil
}

func (r *RedisStore) CreateEntry(ctx context.Context, entry models.QueueEntry) (models.QueueEntry, error) {
	ok, err := r.client.SetNX(ctx, tokenKey(entry.Token), entry.ID, 0).Result()
	if err != nil {
		return models.QueueEntry{}, fmt.Errorf("reserve token: %w", err)
	}
	if !ok {
		return models.QueueEntry{}, status.ErrDuplicateToken
	}

	seq, err := r.client.Incr(ctx, queueSeqKey).Result()
	if err != nil {
		r.releaseToken(ctx, entry.Token)
		return models.QueueEntry{}, fmt.Errorf("next queue sequence: %w", err)
	}
	entry.Seq = seq

	data, err := json.Marshal(entry)
	if err != nil {
		r.releaseToken(ctx, entry.Token)
		return models.QueueEntry{}, err
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, entryKey(entry.ID), data, 0)
		pipe.ZAdd(ctx, siteQueueKey(entry.SiteID), redis.Z{Score: float64(seq), Member: entry.ID})
		return nil
	})
	if err != nil {
		r.releaseToken(ctx, entry.Token)
		return models.QueueEntry{}, fmt.Errorf("save entry: %w", err)
	}
	return entry, nil
}

// releaseToken drops a token reservation whose entry was never written.
func (r *RedisStore) releaseToken(ctx context.Context, token string) {
	if err := r.client.Del(context.WithoutCancel(ctx), tokenKey(token)).Err(); err != nil {
		slog.Error("Failed to release queue token", "token", token, "error", err)
	}
}

func (r *RedisStore) GetEntryByToken(ctx context.Context, token string) (models.QueueEntry, error) {
	id, err := r.client.Get(ctx, tokenKey(token)).Result()
	if err == redis.Nil {
		return models.QueueEntry{}, status.ErrEntryNotFound
	}
	if err != nil {
		return models.QueueEntry{}, err
	}
	return getJSON[models.QueueEntry](ctx, r.client, entryKey(id), status.ErrEntryNotFound)
}

func (r *RedisStore) UpdateEntry(ctx context.Context, entry models.QueueEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	ok, err := r.client.SetXX(ctx, entryKey(entry.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("update entry %s: %w", entry.Token, err)
	}
	if !ok {
		return status.ErrEntryNotFound
	}
	return nil
}

func (r *RedisStore) ListEntries(ctx context.Context, siteID string, statuses ...models.QueueStatus) ([]models.QueueEntry, error) {
	ids, err := r.client.ZRange(ctx, siteQueueKey(siteID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list entries for %s: %w", siteID, err)
	}
	all, err := mgetJSON[models.QueueEntry](ctx, r.client, ids, entryKey)
	if err != nil {
		return nil, err
	}

	set := statusSet(statuses)
	entries := make([]models.QueueEntry, 0, len(all))
	for _, e := range all {
		if matchStatus(set, e.Status) {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

func (r *RedisStore) CreateEmergency(ctx context.Context, record models.EmergencyRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, emergencyKey(record.ID), data, 0)
		pipe.ZAdd(ctx, emergenciesKey, redis.Z{Score: float64(record.CreatedAt.UnixNano()), Member: record.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("save emergency %s: %w", record.ID, err)
	}
	return nil
}

func (r *RedisStore) GetEmergency(ctx context.Context, id string) (models.EmergencyRecord, error) {
	return getJSON[models.EmergencyRecord](ctx, r.client, emergencyKey(id), status.ErrEmergencyNotFound)
}

func (r *RedisStore) UpdateEmergency(ctx context.Context, record models.EmergencyRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	ok, err := r.client.SetXX(ctx, emergencyKey(record.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("update emergency %s: %w", record.ID, err)
	}
	if !ok {
		return status.ErrEmergencyNotFound
	}
	return nil
}

func (r *RedisStore) ListEmergencies(ctx context.Context, filter models.EmergencyFilter) ([]models.EmergencyRecord, error) {
	floor := "-inf"
	if !filter.Since.IsZero() {
		floor = fmt.Sprintf("%d", filter.Since.UnixNano())
	}
	ids, err := r.client.ZRevRangeByScore(ctx, emergenciesKey, &redis.ZRangeBy{Min: floor, Max: "+inf"}).Result()
	if err != nil {
		return nil, fmt.Errorf("list emergencies: %w", err)
	}
	all, err := mgetJSON[models.EmergencyRecord](ctx, r.client, ids, emergencyKey)
	if err != nil {
		return nil, err
	}

	records := make([]models.EmergencyRecord, 0, len(all))
	for _, rec := range all {
		if filter.Match(rec) {
			records = append(records, rec)
		}
	}
	sortNewestFirst(records)
	return records, nil
}

func (r *RedisStore) AppendSnapshot(ctx context.Context, snapshot models.AnalyticsSnapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	key := analyticsKey(snapshot.SiteID)
	_, err = r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, data)
		if r.retention > 0 {
			pipe.LTrim(ctx, key, 0, int64(r.retention-1))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("append snapshot for %s: %w", snapshot.SiteID, err)
	}
	return nil
}

func (r *RedisStore) ListSnapshots(ctx context.Context, siteID string, limit int) ([]models.AnalyticsSnapshot, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	values, err := r.client.LRange(ctx, analyticsKey(siteID), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("list snapshots for %s: %w", siteID, err)
	}

	snapshots := make([]models.AnalyticsSnapshot, 0, len(values))
	for _, v := range values {
		var s models.AnalyticsSnapshot
		if err := json.Unmarshal([]byte(v), &s); err != nil {
			return nil, fmt.Errorf("decode snapshot: %w", err)
		}
		snapshots = append(snapshots, s)
	}
	return snapshots, nil
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return utils.RedisHealthCheck(ctx, r.client)
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func getJSON[T any](ctx context.Context, client *redis.Client, key string, notFound error) (T, error) {
	var v T
	data, err := client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return v, notFound
	}
	if err != nil {
		return v, fmt.Errorf("get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("decode %s: %w", key, err)
	}
	return v, nil
}

func mgetJSON[T any](ctx context.Context, client *redis.Client, ids []string, keyFn func(string) string) ([]T, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = keyFn(id)
	}
	values, err := client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("mget: %w", err)
	}

	out := make([]T, 0, len(values))
	for _, raw := range values {
		s, ok := raw.(string)
		if !ok {
			continue
		}
		var v T
		if err := json.Unmarshal([]byte(s), &v); err != nil {
			return nil, fmt.Errorf("decode: %w", err)
		}
		out = append(out, v)
	}
	return out, nil
}
