package notifier_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airgrid/airgrid/internal/anomaly"
	"github.com/airgrid/airgrid/internal/notifier"
	"github.com/airgrid/airgrid/internal/reading"
)

func sample(id string) anomaly.Anomaly {
	return anomaly.Anomaly{ID: id, Parameter: reading.PM25, Value: 260, Threshold: 250}
}

func TestHub_DeliversToConnectedSubscriber(t *testing.T) {
	hub := notifier.NewHub(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := hub.Subscribe(ctx, 0)
	assert.Equal(t, 1, hub.Publish(sample("a1")))

	select {
	case got := <-ch:
		assert.Equal(t, "a1", got.ID)
	case <-time.After(time.Second):
		t.Fatal("anomaly not delivered")
	}
}

func TestHub_NoReplayForLateSubscriber(t *testing.T) {
	hub := notifier.NewHub(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	assert.Zero(t, hub.Publish(sample("early")))

	ch := hub.Subscribe(ctx, 0)
	hub.Publish(sample("late"))

	got := <-ch
	assert.Equal(t, "late", got.ID)
	select {
	case extra := <-ch:
		t.Fatalf("unexpected anomaly %s", extra.ID)
	default:
	}
}

func TestHub_SlowSubscriberDoesNotBlockOthers(t *testing.T) {
	hub := notifier.NewHub(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_ = hub.Subscribe(ctx, 1)
	fast := hub.Subscribe(ctx, 10)

	for _, id := range []string{"a", "b", "c"} {
		hub.Publish(sample(id))
	}

	var ids []string
	for i := 0; i < 3; i++ {
		ids = append(ids, (<-fast).ID)
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)

	published, dropped := hub.Stats()
	assert.Equal(t, int64(3), published)
	assert.Equal(t, int64(2), dropped)
}

func TestHub_UnsubscribeOnCancel(t *testing.T) {
	hub := notifier.NewHub(4)
	ctx, cancel := context.WithCancel(context.Background())

	ch := hub.Subscribe(ctx, 0)
	require.Equal(t, 1, hub.Subscribers())

	cancel()
	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel not closed")
	}
	assert.Eventually(t, func() bool { return hub.Subscribers() == 0 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, hub.Publish(sample("x")))
}

type failingNotifier struct{}

func (failingNotifier) Notify(context.Context, anomaly.Anomaly) error {
	return notifier.ErrNotify
}

func TestMulti_NotifiesAllAndJoinsErrors(t *testing.T) {
	hub := notifier.NewHub(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := hub.Subscribe(ctx, 0)

	err := notifier.Multi{failingNotifier{}, hub}.Notify(ctx, sample("m"))
	assert.ErrorIs(t, err, notifier.ErrNotify)
	assert.Equal(t, "m", (<-ch).ID)
}

func TestRedisRelay_NotifyFailureIsErrNotify(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	relay := notifier.NewRedisRelay(client, "airgrid:anomalies", zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := relay.Notify(ctx, sample("r"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, notifier.ErrNotify))
}

func TestConnectRedis_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	_, err := notifier.ConnectRedis(ctx, notifier.RedisConfig{Addr: "127.0.0.1:1"})
	assert.Error(t, err)
}

// localRedis connects to REDIS_ADDR (default 127.0.0.1:6379) or skips.
func localRedis(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "127.0.0.1:6379"
	}
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	client, err := notifier.ConnectRedis(ctx, notifier.RedisConfig{Addr: addr})
	if err != nil {
		t.Skipf("redis not reachable at %s: %v", addr, err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisRelay_RunRelaysIntoHub(t *testing.T) {
	client := localRedis(t)
	channel := "airgrid:test:" + t.Name()

	hub := notifier.NewHub(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := hub.Subscribe(ctx, 0)

	relay := notifier.NewRedisRelay(client, channel, zerolog.Nop())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx, hub) }()

	// Run subscribes asynchronously; publish until the relay delivers.
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for delivered := false; !delivered; {
		select {
		case got := <-events:
			assert.Equal(t, "relayed", got.ID)
			assert.Equal(t, reading.PM25, got.Parameter)
			delivered = true
		case <-tick.C:
			require.NoError(t, relay.Notify(ctx, sample("relayed")))
		case <-deadline:
			t.Fatal("anomaly not relayed into hub")
		}
	}

	// Malformed payloads are skipped without stopping the relay.
	require.NoError(t, client.Publish(ctx, channel, "not json").Err())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop on cancel")
	}
}
