package container

import (
	"context"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tick-gap-go/config"
	"tick-gap-go/gateway"
	"tick-gap-go/market"
	"tick-gap-go/storage"
)

type recordNotify struct {
	mu     sync.Mutex
	states []string
}

func (r *recordNotify) notify(state string) error {
	r.mu.Lock()
	r.states = append(r.states, state)
	r.mu.Unlock()
	return nil
}

func (r *recordNotify) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.states...)
}

func testConfig(t *testing.T, feedURL, redisAddr string) config.AppConfig {
	t.Helper()
	cfg := config.Default()
	cfg.Feed.Address = feedURL
	cfg.Storage.RedisAddr = redisAddr
	cfg.Metrics.Listen = ""
	cfg.Log.Outputs = nil
	cfg.Engine.TickIntervalMs = 20
	cfg.Feed.ReconnectMinMs = 10
	cfg.Feed.ReconnectMaxMs = 50
	require.NoError(t, config.Validate(cfg))
	return cfg
}

func TestContainerEndToEnd(t *testing.T) {
	mr := miniredis.RunT(t)
	pub := gateway.NewWSPublisher(1000, nil)
	srv := httptest.NewServer(pub)
	defer srv.Close()
	defer pub.Close()

	cfg := testConfig(t, "ws"+strings.TrimPrefix(srv.URL, "http"), mr.Addr())
	c := NewWithConfig(cfg, "")
	rec := &recordNotify{}
	c.notify = rec.notify

	ctx := context.Background()
	require.NoError(t, c.Build(ctx))
	require.NoError(t, c.Start(ctx))
	require.Eventually(t, func() bool { return pub.Clients() == 1 }, 5*time.Second, 5*time.Millisecond)
	require.NoError(t, c.Health())

	base := time.Now().Unix()
	prices := []float64{1.10000, 1.10015, 1.10016, 1.10030}
	for i, p := range prices {
		line, err := market.EncodeTick(market.Tick{Symbol: "EURUSD", Time: base, Bid: p, SeqNum: int64(i + 1)})
		require.NoError(t, err)
		require.NoError(t, pub.Publish(ctx, "EURUSD", line))
	}
	require.Eventually(t, func() bool { return c.Engine().Stats().Processed == int64(len(prices)) },
		5*time.Second, 5*time.Millisecond)
	require.NoError(t, c.Stop())

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	rows, err := storage.NewRedisStore(rdb, cfg.Storage.TickNamespace, 0).Rows(ctx, storage.Query{Symbol: "EURUSD"})
	require.NoError(t, err)
	var large, small int64
	for _, r := range rows {
		large += r.LargeGapCount
		small += r.SmallGapCount
	}
	assert.Equal(t, int64(2), large)
	assert.Equal(t, int64(1), small)

	assert.Equal(t, []string{"READY=1", "STOPPING=1"}, rec.all())
}

func TestContainerConfirmLateStart(t *testing.T) {
	mr := miniredis.RunT(t)
	confirm := gateway.NewConfirmServer(nil, nil)
	srv := httptest.NewUnstartedServer(confirm)
	defer srv.Close()

	cfg := testConfig(t, "ws://127.0.0.1:1/ticks", mr.Addr())
	cfg.Confirm.Enabled = true
	cfg.Confirm.Address = "ws://" + srv.Listener.Addr().String() + "/confirm"
	cfg.Feed.DialTimeoutMs = 50

	c := NewWithConfig(cfg, "")
	c.notify = func(string) error { return nil }
	require.NoError(t, c.Build(context.Background()))
	require.NotNil(t, c.confirm)
	require.NoError(t, c.Start(context.Background()))

	// 发布端晚于接收端启动
	srv.Start()
	require.Eventually(t, func() bool { return confirm.Peers() == 1 }, 5*time.Second, 5*time.Millisecond)
	_, err := confirm.Request(context.Background())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return confirm.Acks() == 1 }, 5*time.Second, 5*time.Millisecond)
	require.NoError(t, c.Stop())
}

func TestContainerStorageUnavailable(t *testing.T) {
	cfg := testConfig(t, "ws://127.0.0.1:1/ticks", "127.0.0.1:1")
	cfg.Storage.DialTimeoutMs = 200
	c := NewWithConfig(cfg, "")
	err := c.Build(context.Background())
	assert.Error(t, err)
}

func TestContainerStartRequiresBuild(t *testing.T) {
	c := NewWithConfig(config.Default(), "")
	assert.Error(t, c.Start(context.Background()))
}

func TestContainerHotReload(t *testing.T) {
	mr := miniredis.RunT(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "receiver.yaml")
	write := func(pips string) {
		content := "env: test\nstorage:\n  redisAddr: " + mr.Addr() + "\nfeed:\n  address: ws://127.0.0.1:1/ticks\nmetrics:\n  listen: \"\"\nlog:\n  outputs: []\nengine:\n  largeGapPips: " + pips + "\n"
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	write("1")

	c, err := New(path)
	require.NoError(t, err)
	c.notify = func(string) error { return nil }
	require.NoError(t, c.Build(context.Background()))
	require.NotNil(t, c.watcher)
	require.NoError(t, c.Start(context.Background()))
	defer c.Stop()

	write("5")
	require.Eventually(t, func() bool { return !c.watcher.LastReload().IsZero() }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, float64(1), c.Config().Engine.LargeGapPips, "startup config is not mutated")
}

func TestEngineConfigMapping(t *testing.T) {
	cfg := config.Default()
	cfg.Engine.PipOverrides = map[string]float64{"XAUUSD": 0.1}
	cfg.Feed.Symbols = []string{"EURUSD"}
	ec := EngineConfig(cfg)
	assert.Equal(t, 250*time.Millisecond, ec.TickInterval)
	assert.Equal(t, time.Second, ec.FlushGrace)
	assert.Equal(t, 5*time.Minute, ec.MaxClockSkew)
	assert.Equal(t, 500*time.Millisecond, ec.ConfirmTimeout)
	assert.Equal(t, 100*time.Millisecond, ec.ReconnectMin)
	assert.Equal(t, []string{"EURUSD"}, ec.Symbols)
	assert.Equal(t, 0.1, ec.PipOverrides["XAUUSD"])

	u := UpdateFrom(cfg)
	assert.Equal(t, cfg.Engine.LargeGapPips, u.LargeGapPips)
	assert.Equal(t, cfg.Engine.LateWindowMinutes, u.LateWindowMinutes)
	assert.Equal(t, 500*time.Millisecond, u.ConfirmTimeout)
}

func TestHeartbeatThrottled(t *testing.T) {
	var sent []string
	now := time.Unix(1700000000, 0)
	hb := newHeartbeat(func(s string) error {
		sent = append(sent, s)
		return errors.New("no socket")
	}, time.Second, func() time.Time { return now }, zap.NewNop())

	hb()
	hb()
	now = now.Add(999 * time.Millisecond)
	hb()
	now = now.Add(time.Millisecond)
	hb()
	assert.Equal(t, []string{"WATCHDOG=1", "WATCHDOG=1"}, sent)
}

type fakeComponent struct {
	name     string
	startErr error
	log      *[]string
}

func (f *fakeComponent) Start(context.Context) error {
	*f.log = append(*f.log, "start "+f.name)
	return f.startErr
}

func (f *fakeComponent) Stop() error {
	*f.log = append(*f.log, "stop "+f.name)
	return nil
}

func (f *fakeComponent) Health() error { return nil }

func TestLifecycleRollback(t *testing.T) {
	var log []string
	m := NewLifecycleManager()
	m.Register(&fakeComponent{name: "a", log: &log})
	m.Register(&fakeComponent{name: "b", log: &log})
	m.Register(&fakeComponent{name: "c", log: &log, startErr: errors.New("boom")})

	err := m.StartAll(context.Background())
	require.Error(t, err)
	assert.Equal(t, []string{"start a", "start b", "start c", "stop b", "stop a"}, log)

	log = nil
	require.NoError(t, m.StopAll())
	assert.Equal(t, []string{"stop c", "stop b", "stop a"}, log)
}
