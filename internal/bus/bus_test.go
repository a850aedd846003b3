package bus

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
	"github.com/vlogmedia/vlog/internal/config"
	"github.com/vlogmedia/vlog/internal/models"
)

func newTestBus(t *testing.T) (*Bus, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	b, err := New(config.RedisConfig{
		Addr:                mr.Addr(),
		HealthCheckInterval: time.Minute,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b, mr
}

func TestBus_PublishSubscribeRoundTrip(t *testing.T) {
	b, _ := newTestBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	jobID := models.NewULID()
	videoID := models.NewULID()
	perVideo, err := b.Subscribe(ctx, ProgressChannel(videoID))
	require.NoError(t, err)
	all, err := b.Subscribe(ctx, ChannelProgressAll)
	require.NoError(t, err)

	require.NoError(t, b.PublishProgress(ctx, ProgressEvent{
		JobID:           jobID,
		VideoID:         videoID,
		CurrentStep:     "transcoding 720p",
		ProgressPercent: 42.5,
		Qualities: []EventQuality{
			{Name: "720p", Status: "in_progress", Progress: 42.5},
		},
	}))

	// The same event lands on the video's channel and on progress:all.
	for _, msgs := range []<-chan Message{perVideo, all} {
		select {
		case msg := <-msgs:
			var ev ProgressEvent
			require.NoError(t, json.Unmarshal(msg.Payload, &ev))
			require.Equal(t, EventTypeProgress, ev.Type)
			require.Equal(t, jobID, ev.JobID)
			require.Equal(t, videoID, ev.VideoID)
			require.Equal(t, 42.5, ev.ProgressPercent)
			require.Len(t, ev.Qualities, 1)
			require.Equal(t, "720p", ev.Qualities[0].Name)
			require.False(t, ev.Timestamp.IsZero())
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for progress event")
		}
	}
}

func TestBus_ProgressWithoutQualitiesStaysAnArray(t *testing.T) {
	b, _ := newTestBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	videoID := models.NewULID()
	msgs, err := b.Subscribe(ctx, ProgressChannel(videoID))
	require.NoError(t, err)

	require.NoError(t, b.PublishProgress(ctx, ProgressEvent{
		VideoID:         videoID,
		CurrentStep:     "probing",
		ProgressPercent: 1,
	}))

	select {
	case msg := <-msgs:
		var raw map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(msg.Payload, &raw))
		require.JSONEq(t, "[]", string(raw["qualities"]))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for progress event")
	}
}

func TestBus_JobCompletedEchoedOnProgressChannel(t *testing.T) {
	b, _ := newTestBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	videoID := models.NewULID()
	progress, err := b.Subscribe(ctx, ProgressChannel(videoID))
	require.NoError(t, err)
	completed, err := b.Subscribe(ctx, ChannelJobsCompleted)
	require.NoError(t, err)

	require.NoError(t, b.PublishJobCompleted(ctx, JobCompletedEvent{
		JobID:      models.NewULID(),
		VideoID:    videoID,
		VideoSlug:  "demo",
		WorkerID:   "w-1",
		WorkerName: "encoder-1",
		Qualities: []EventQuality{
			{Name: "1080p", Status: "completed", Progress: 100},
		},
		DurationSeconds: 12.5,
	}))

	for _, msgs := range []<-chan Message{completed, progress} {
		select {
		case msg := <-msgs:
			var ev JobCompletedEvent
			require.NoError(t, json.Unmarshal(msg.Payload, &ev))
			require.Equal(t, EventTypeJobCompleted, ev.Type)
			require.Equal(t, "encoder-1", ev.WorkerName)
			require.Len(t, ev.Qualities, 1)
			require.Equal(t, 12.5, ev.DurationSeconds)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for completion event")
		}
	}
}

func TestBus_JobFailedCarriesAttemptBudget(t *testing.T) {
	b, _ := newTestBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msgs, err := b.Subscribe(ctx, ChannelJobsFailed)
	require.NoError(t, err)

	require.NoError(t, b.PublishJobFailed(ctx, JobFailedEvent{
		JobID:       models.NewULID(),
		VideoID:     models.NewULID(),
		Error:       "encoder exited 1",
		Attempt:     2,
		MaxAttempts: 3,
		WillRetry:   true,
	}))

	select {
	case msg := <-msgs:
		var raw map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(msg.Payload, &raw))
		require.Contains(t, raw, "attempt")
		require.Contains(t, raw, "max_attempts")
		require.NotContains(t, raw, "attempt_number")
		var ev JobFailedEvent
		require.NoError(t, json.Unmarshal(msg.Payload, &ev))
		require.Equal(t, 2, ev.Attempt)
		require.Equal(t, 3, ev.MaxAttempts)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for failure event")
	}
}

func TestBus_BroadcastCommandReachesWorkerSubscription(t *testing.T) {
	b, _ := newTestBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// A worker listens on its own channel and the broadcast channel, the
	// way the agent subscribes.
	msgs, err := b.Subscribe(ctx, CommandChannel("w-1"), ChannelWorkersCommands)
	require.NoError(t, err)

	require.NoError(t, b.PublishCommandBroadcast(ctx, CommandEvent{
		RequestID: "req-1",
		Command:   CommandStop,
	}))

	select {
	case msg := <-msgs:
		require.Equal(t, ChannelWorkersCommands, msg.Channel)
		var cmd CommandEvent
		require.NoError(t, json.Unmarshal(msg.Payload, &cmd))
		require.Equal(t, CommandStop, cmd.Command)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for broadcast command")
	}
}

func TestBus_ResponseTypeStamping(t *testing.T) {
	b, _ := newTestBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msgs, err := b.Subscribe(ctx, ResponseChannel("w-1", "req-logs"))
	require.NoError(t, err)

	// A query reply keeps its specific type; a plain reply gets the
	// generic discriminator.
	require.NoError(t, b.PublishCommandResponse(ctx, CommandResponseEvent{
		Type:      EventTypeLogsResponse,
		RequestID: "req-logs",
		WorkerID:  "w-1",
		Success:   true,
	}))

	select {
	case msg := <-msgs:
		var resp CommandResponseEvent
		require.NoError(t, json.Unmarshal(msg.Payload, &resp))
		require.Equal(t, EventTypeLogsResponse, resp.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for logs response")
	}

	msgs2, err := b.Subscribe(ctx, ResponseChannel("w-1", "req-stop"))
	require.NoError(t, err)
	require.NoError(t, b.PublishCommandResponse(ctx, CommandResponseEvent{
		RequestID: "req-stop",
		WorkerID:  "w-1",
		Success:   true,
	}))

	select {
	case msg := <-msgs2:
		var resp CommandResponseEvent
		require.NoError(t, json.Unmarshal(msg.Payload, &resp))
		require.Equal(t, EventTypeCommandResponse, resp.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for stop response")
	}
}

func TestBus_SubscriberSkipsInvalidPayloads(t *testing.T) {
	b, mr := newTestBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msgs, err := b.Subscribe(ctx, ChannelWorkersStatus)
	require.NoError(t, err)

	// Garbage frames are dropped; the valid event that follows still arrives.
	mr.Publish(ChannelWorkersStatus, "{not json")
	require.NoError(t, b.PublishWorkerStatus(ctx, WorkerStatusEvent{
		WorkerID: "w-1",
		Status:   models.WorkerStatusIdle,
	}))

	select {
	case msg := <-msgs:
		var ev WorkerStatusEvent
		require.NoError(t, json.Unmarshal(msg.Payload, &ev))
		require.Equal(t, "w-1", ev.WorkerID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for worker status event")
	}
}

func TestBus_CommandResponseRoundTrip(t *testing.T) {
	b, _ := newTestBus(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	const workerID = "worker-1"
	const requestID = "req-123"

	cmds, err := b.Subscribe(ctx, CommandChannel(workerID))
	require.NoError(t, err)

	// Worker side: answer the first command it sees.
	go func() {
		msg := <-cmds
		var cmd CommandEvent
		if json.Unmarshal(msg.Payload, &cmd) != nil {
			return
		}
		_ = b.PublishCommandResponse(ctx, CommandResponseEvent{
			RequestID: cmd.RequestID,
			WorkerID:  workerID,
			Success:   true,
			Result:    map[string]any{"cpu_percent": 12.5},
		})
	}()

	// Coordinator side: subscribe for the response, then send the command.
	type result struct {
		resp *CommandResponseEvent
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := b.AwaitResponse(ctx, workerID, requestID)
		done <- result{resp, err}
	}()
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, b.PublishCommand(ctx, workerID, CommandEvent{
		RequestID: requestID,
		Command:   CommandGetMetrics,
	}))

	r := <-done
	require.NoError(t, r.err)
	require.True(t, r.resp.Success)
	require.Equal(t, requestID, r.resp.RequestID)
}

func TestBus_HealthyCachesResult(t *testing.T) {
	b, mr := newTestBus(t)
	ctx := context.Background()

	require.NoError(t, b.Healthy(ctx))

	// Within the cache window the stale healthy result is reused.
	mr.Close()
	require.NoError(t, b.Healthy(ctx))
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig())
	cb.jitter = func(d time.Duration) time.Duration { return d }

	now := time.Now()
	cb.now = func() time.Time { return now }

	require.True(t, cb.Allow())

	cb.RecordFailure()
	cb.RecordFailure()
	require.Equal(t, CircuitClosed, cb.State())
	require.True(t, cb.Allow())

	cb.RecordFailure()
	require.Equal(t, CircuitOpen, cb.State())
	require.False(t, cb.Allow())

	// Base cooldown at the threshold.
	now = now.Add(breakerBaseCooldown)
	require.Equal(t, CircuitHalfOpen, cb.State())
	require.True(t, cb.Allow())

	// A probe failure reopens with a doubled cooldown.
	cb.RecordFailure()
	require.False(t, cb.Allow())
	now = now.Add(breakerBaseCooldown)
	require.False(t, cb.Allow())
	now = now.Add(breakerBaseCooldown)
	require.True(t, cb.Allow())

	// Success closes and resets everything.
	cb.RecordSuccess()
	require.Equal(t, CircuitClosed, cb.State())
	require.True(t, cb.Allow())
}

func TestCircuitBreaker_CooldownIsCapped(t *testing.T) {
	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig())
	cb.jitter = func(d time.Duration) time.Duration { return d }

	for i := 0; i < 20; i++ {
		cb.RecordFailure()
	}
	stats := cb.Stats()
	require.Equal(t, "open", stats.State)
	require.Equal(t, breakerMaxCooldown, stats.Cooldown)
}
