package storage

import (
	"context"
	"encoding/json"

	redisx "IMCore/service/storage/redis"

	"github.com/pkg/errors"
)

// Offline queue: one Redis list per user, rolling window so an idle
// account cannot grow without bound.

const offlineKeep = 10_000

type OfflineMsg struct {
	From    string `json:"from"`
	Payload []byte `json:"payload"`
}

func offlineKey(user string) string { return "im:offline:" + user }

// EnqueueOffline stores a message for a user with no live connection.
func EnqueueOffline(ctx context.Context, user, from string, payload []byte) error {
	rdb, ok := redisx.TryGetRedis()
	if !ok {
		return errors.New("redis not initialized")
	}
	b, _ := json.Marshal(OfflineMsg{From: from, Payload: payload})
	pipe := rdb.TxPipeline()
	pipe.LPush(ctx, offlineKey(user), b)
	pipe.LTrim(ctx, offlineKey(user), 0, offlineKeep-1)
	_, err := pipe.Exec(ctx)
	return err
}

// FetchOffline drains up to n queued messages in FIFO order. LPUSH
// puts newest at the head, so the oldest n live at the tail: read and
// trim with tail-anchored indexes in one transaction, so the range and
// the trim see the same list. Trimming to an empty range deletes the
// key, which is exactly the drained-everything case.
func FetchOffline(ctx context.Context, user string, n int) ([]OfflineMsg, error) {
	rdb, ok := redisx.TryGetRedis()
	if !ok {
		return nil, errors.New("redis not initialized")
	}
	if n <= 0 {
		n = 100
	}

	pipe := rdb.TxPipeline()
	rangeCmd := pipe.LRange(ctx, offlineKey(user), int64(-n), -1)
	pipe.LTrim(ctx, offlineKey(user), 0, int64(-(n + 1)))
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	vals := rangeCmd.Val()
	if len(vals) == 0 {
		return nil, nil
	}
	out := make([]OfflineMsg, 0, len(vals))
	for i := len(vals) - 1; i >= 0; i-- { // reverse to FIFO
		var m OfflineMsg
		_ = json.Unmarshal([]byte(vals[i]), &m)
		out = append(out, m)
	}
	return out, nil
}
