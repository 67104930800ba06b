package pgmq

import (
	"context"
	"testing"
	"time"
)

func validConfig() Config {
	return Config{
		Queue:                 "jobs",
		Prefetch:              1,
		VT:                    2 * time.Second,
		QueueMinPullDelay:     100 * time.Millisecond,
		QueueMaxPullDelay:     time.Second,
		MessageRetryDelayStep: 100 * time.Millisecond,
		MessageMaxRetryDelay:  time.Second,
		OnMessage:             func(ctx context.Context, msg Message) error { return nil },
	}
}

func TestConfigValidate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		cfg := validConfig()
		if err := cfg.validate(); err != nil {
			t.Fatalf("validate() = %v, want nil", err)
		}
	})

	t.Run("missing queue", func(t *testing.T) {
		cfg := validConfig()
		cfg.Queue = ""
		if err := cfg.validate(); err == nil {
			t.Fatal("expected error for missing queue")
		}
	})

	t.Run("prefetch must be positive", func(t *testing.T) {
		cfg := validConfig()
		cfg.Prefetch = 0
		if err := cfg.validate(); err == nil {
			t.Fatal("expected error for zero prefetch")
		}
	})

	t.Run("vt floor", func(t *testing.T) {
		cfg := validConfig()
		cfg.VT = 500 * time.Millisecond
		if err := cfg.validate(); err == nil {
			t.Fatal("expected error for vt < 1s")
		}
	})

	t.Run("pull delay ordering", func(t *testing.T) {
		cfg := validConfig()
		cfg.QueueMinPullDelay = cfg.QueueMaxPullDelay
		if err := cfg.validate(); err == nil {
			t.Fatal("expected error when min pull delay >= max")
		}
	})

	t.Run("retry delay ordering", func(t *testing.T) {
		cfg := validConfig()
		cfg.MessageRetryDelayStep = cfg.MessageMaxRetryDelay
		if err := cfg.validate(); err == nil {
			t.Fatal("expected error when retry step >= max retry delay")
		}
	})

	t.Run("on_message required", func(t *testing.T) {
		cfg := validConfig()
		cfg.OnMessage = nil
		if err := cfg.validate(); err == nil {
			t.Fatal("expected error for missing on_message")
		}
	})
}

func TestNewConsumerRejectsInvalidConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Queue = ""
	if _, err := NewConsumer(context.Background(), nil, cfg); err == nil {
		t.Fatal("expected error constructing consumer with invalid config")
	}
}

func TestNextBackoff(t *testing.T) {
	min := 100 * time.Millisecond
	max := time.Second

	cases := []struct {
		name  string
		delay time.Duration
		want  time.Duration
	}{
		{"from zero starts at min", 0, min},
		{"doubles", 100 * time.Millisecond, 200 * time.Millisecond},
		{"doubles again", 200 * time.Millisecond, 400 * time.Millisecond},
		{"caps at max", 700 * time.Millisecond, max},
		{"stays at max", max, max},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := nextBackoff(tc.delay, min, max)
			if got != tc.want {
				t.Errorf("nextBackoff(%v, %v, %v) = %v, want %v", tc.delay, min, max, got, tc.want)
			}
		})
	}
}

func TestNackDelay(t *testing.T) {
	step := 100 * time.Millisecond
	max := time.Second

	cases := []struct {
		readCount int64
		want      time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 300 * time.Millisecond},
		{20, max}, // 2s uncapped would exceed max
	}
	for _, tc := range cases {
		got := nackDelay(step, max, tc.readCount)
		if got != tc.want {
			t.Errorf("nackDelay(read_ct=%d) = %v, want %v", tc.readCount, got, tc.want)
		}
	}
}

func TestSignalWakeIsNonBlocking(t *testing.T) {
	c := &Consumer{wake: make(chan struct{}, 1)}
	c.signalWake()
	c.signalWake() // must not block even though the buffer is full
	select {
	case <-c.wake:
	default:
		t.Fatal("expected a pending wake signal")
	}
}

func TestStopOnNeverStartedConsumerIsNoop(t *testing.T) {
	c := &Consumer{cfg: validConfig()}
	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() on a never-started consumer = %v, want nil", err)
	}
}
