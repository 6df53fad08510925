package redisadapter

import (
	"context"
	"strings"
	"time"

	"ordercore/contexts/commerce-core/order-fulfillment-service/ports"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

const (
	defaultStatsKey       = "ordercore:stats"
	defaultStatsMarkerTTL = 7 * 24 * time.Hour
	countSuffix           = ":count"
	amountSuffix          = ":amount"
)

// applyStats sets the marker and increments the hash in one script run, so
// a replayed event can never count twice.
var applyStats = redis.NewScript(`
if not redis.call('SET', KEYS[1], '1', 'NX', 'EX', ARGV[1]) then
	return 0
end
for i = 2, #ARGV, 3 do
	redis.call('HINCRBY', KEYS[2], ARGV[i] .. ':count', ARGV[i + 1])
	redis.call('HINCRBYFLOAT', KEYS[2], ARGV[i] .. ':amount', ARGV[i + 2])
end
return 1
`)

type StatCounter struct {
	Count  int64
	Amount decimal.Decimal
}

type StatisticsRecorder struct {
	client    redis.Scripter
	key       string
	markerTTL time.Duration
}

func NewStatisticsRecorder(client redis.Scripter, key string, markerTTL time.Duration) *StatisticsRecorder {
	if strings.TrimSpace(key) == "" {
		key = defaultStatsKey
	}
	if markerTTL <= 0 {
		markerTTL = defaultStatsMarkerTTL
	}
	return &StatisticsRecorder{client: client, key: key, markerTTL: markerTTL}
}

func (r *StatisticsRecorder) Apply(ctx context.Context, eventID string, deltas []ports.StatDelta) (bool, error) {
	args := make([]any, 0, 1+3*len(deltas))
	args = append(args, int64(r.markerTTL/time.Second))
	for _, delta := range deltas {
		args = append(args, delta.Counter, delta.Count, delta.Amount.String())
	}
	applied, err := applyStats.Run(ctx, r.client, []string{r.markerKey(eventID), r.key}, args...).Int()
	if err != nil {
		return false, err
	}
	return applied == 1, nil
}

// Snapshot reads every counter in the statistics hash.
func (r *StatisticsRecorder) Snapshot(ctx context.Context, client redis.Cmdable) (map[string]StatCounter, error) {
	raw, err := client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]StatCounter)
	for field, value := range raw {
		switch {
		case strings.HasSuffix(field, countSuffix):
			name := strings.TrimSuffix(field, countSuffix)
			counter := out[name]
			count, err := decimal.NewFromString(value)
			if err != nil {
				return nil, err
			}
			counter.Count = count.IntPart()
			out[name] = counter
		case strings.HasSuffix(field, amountSuffix):
			name := strings.TrimSuffix(field, amountSuffix)
			counter := out[name]
			amount, err := decimal.NewFromString(value)
			if err != nil {
				return nil, err
			}
			counter.Amount = amount
			out[name] = counter
		}
	}
	return out, nil
}

func (r *StatisticsRecorder) markerKey(eventID string) string {
	return r.key + ":applied:" + eventID
}
