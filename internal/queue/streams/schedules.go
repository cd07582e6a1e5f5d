package streams

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/seshat/internal/errors"
	"github.com/mohammad-safakhou/seshat/models"
)

// ScheduleStore keeps cron schedules in a Redis hash keyed by schedule id,
// with last fire times in a sibling hash.
type ScheduleStore struct {
	client   *redis.Client
	key      string
	firedKey string
}

func NewScheduleStore(client *redis.Client, prefix string) *ScheduleStore {
	return &ScheduleStore{client: client, key: prefix + ":schedules", firedKey: prefix + ":schedules:fired"}
}

// Put stores s, replacing any schedule with the same id and forgetting its fire history.
func (s *ScheduleStore) Put(ctx context.Context, sched models.Schedule) error {
	raw, err := json.Marshal(sched)
	if err != nil {
		return errors.Wrap(err, "marshal schedule")
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.key, sched.ScheduleID, raw)
		pipe.HDel(ctx, s.firedKey, sched.ScheduleID)
		return nil
	})
	return errors.Upstream(err, "store schedule")
}

// List returns every schedule ordered by id.
func (s *ScheduleStore) List(ctx context.Context) ([]models.Schedule, error) {
	all, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, errors.Upstream(err, "list schedules")
	}
	out := make([]models.Schedule, 0, len(all))
	for id, raw := range all {
		var sched models.Schedule
		if err := json.Unmarshal([]byte(raw), &sched); err != nil {
			return nil, errors.Wrapf(err, "decode schedule %s", id)
		}
		out = append(out, sched)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduleID < out[j].ScheduleID })
	return out, nil
}

// Delete removes a schedule. It reports false when no such schedule existed.
func (s *ScheduleStore) Delete(ctx context.Context, id string) (bool, error) {
	var removed *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		removed = pipe.HDel(ctx, s.key, id)
		pipe.HDel(ctx, s.firedKey, id)
		return nil
	})
	if err != nil {
		return false, errors.Upstream(err, "delete schedule")
	}
	return removed.Val() > 0, nil
}

// LastFired returns the last fire time per schedule id.
func (s *ScheduleStore) LastFired(ctx context.Context) (map[string]time.Time, error) {
	all, err := s.client.HGetAll(ctx, s.firedKey).Result()
	if err != nil {
		return nil, errors.Upstream(err, "load fire times")
	}
	out := make(map[string]time.Time, len(all))
	for id, v := range all {
		sec, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		out[id] = time.Unix(sec, 0).UTC()
	}
	return out, nil
}

// MarkFired records at as the last fire time of id.
func (s *ScheduleStore) MarkFired(ctx context.Context, id string, at time.Time) error {
	return errors.Upstream(s.client.HSet(ctx, s.firedKey, id, at.Unix()).Err(), "mark schedule fired")
}
