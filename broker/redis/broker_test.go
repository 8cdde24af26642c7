//go:build integration

package redis_test

import (
	"context"
	"errors"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/xraph/asyncjob/broker"
	redisbroker "github.com/xraph/asyncjob/broker/redis"
	"github.com/xraph/asyncjob/id"
	"github.com/xraph/asyncjob/job"
)

func setupClient(t *testing.T) *goredis.Client {
	t.Helper()
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("start redis container: %v", err)
	}
	t.Cleanup(func() {
		if termErr := container.Terminate(ctx); termErr != nil {
			t.Logf("terminate container: %v", termErr)
		}
	})

	uri, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("get connection string: %v", err)
	}
	opts, err := goredis.ParseURL(uri)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	client := goredis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestPublishConsumeAck(t *testing.T) {
	for _, codec := range []broker.Codec{broker.JSONCodec{}, broker.MsgpackCodec{}} {
		t.Run(codec.Name(), func(t *testing.T) {
			ctx := context.Background()
			client := setupClient(t)
			b := redisbroker.New(client, redisbroker.WithCodec(codec))

			m := broker.NewMessage("ai", job.TypeResumeAnalysis, id.NewJobID(), []byte(`{"file":"cv.pdf"}`), 2)
			if err := b.Publish(ctx, m); err != nil {
				t.Fatalf("Publish: %v", err)
			}

			got, err := b.Consume(ctx, []string{"ai"}, time.Second)
			if err != nil || got == nil {
				t.Fatalf("Consume: %v %v", got, err)
			}
			if got.ID != m.ID || got.JobID != m.JobID || string(got.Payload) != string(m.Payload) {
				t.Errorf("decoded message differs: %+v", got)
			}
			if n := client.LLen(ctx, "asyncjob:processing:ai").Val(); n != 1 {
				t.Errorf("processing len = %d, want 1", n)
			}

			if err := b.Ack(ctx, got); err != nil {
				t.Fatalf("Ack: %v", err)
			}
			if n := client.LLen(ctx, "asyncjob:processing:ai").Val(); n != 0 {
				t.Errorf("processing len after ack = %d, want 0", n)
			}
		})
	}
}

func TestPublishAtPromotesWhenDue(t *testing.T) {
	ctx := context.Background()
	b := redisbroker.New(setupClient(t))

	m := broker.NewMessage("ai", job.TypePDFAnalysis, id.NewJobID(), nil, 0)
	if err := b.PublishAt(ctx, m, time.Now().Add(300*time.Millisecond)); err != nil {
		t.Fatal(err)
	}

	got, err := b.Consume(ctx, []string{"ai"}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatal("delayed message delivered early")
	}

	time.Sleep(400 * time.Millisecond)
	got, err = b.Consume(ctx, []string{"ai"}, time.Second)
	if err != nil || got == nil || got.ID != m.ID {
		t.Fatalf("expected promoted message, got %v %v", got, err)
	}
}

func TestDeadLetter(t *testing.T) {
	ctx := context.Background()
	b := redisbroker.New(setupClient(t))

	m := broker.NewMessage("bulk", job.TypeBulkImport, id.NewJobID(), nil, 0)
	_ = b.Publish(ctx, m)
	got, err := b.Consume(ctx, []string{"bulk"}, time.Second)
	if err != nil || got == nil {
		t.Fatalf("Consume: %v %v", got, err)
	}

	if err := b.DeadLetter(ctx, got, errors.New("boom")); err != nil {
		t.Fatal(err)
	}
	dead, err := b.DeadLetters(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(dead) != 1 || dead[0].ID != m.ID {
		t.Fatalf("dead letters = %v", dead)
	}
}

func TestReclaimRequeuesExpiredLease(t *testing.T) {
	ctx := context.Background()
	client := setupClient(t)
	b := redisbroker.New(client, redisbroker.WithVisibilityTimeout(100*time.Millisecond))

	m := broker.NewMessage("ai", job.TypeResumeAnalysis, id.NewJobID(), nil, 0)
	if err := b.Publish(ctx, m); err != nil {
		t.Fatal(err)
	}
	if got, err := b.Consume(ctx, []string{"ai"}, time.Second); err != nil || got == nil {
		t.Fatalf("Consume: %v %v", got, err)
	}

	if n, err := b.Reclaim(ctx, []string{"ai"}); err != nil || n != 0 {
		t.Fatalf("Reclaim before expiry = %d, %v; want 0", n, err)
	}

	time.Sleep(150 * time.Millisecond)
	n, err := b.Reclaim(ctx, []string{"ai"})
	if err != nil || n != 1 {
		t.Fatalf("Reclaim after expiry = %d, %v; want 1", n, err)
	}
	if l := client.LLen(ctx, "asyncjob:processing:ai").Val(); l != 0 {
		t.Errorf("processing len = %d, want 0", l)
	}

	again, err := b.Consume(ctx, []string{"ai"}, time.Second)
	if err != nil || again == nil || again.ID != m.ID {
		t.Fatalf("redelivery: %v %v", again, err)
	}
	if err := b.Ack(ctx, again); err != nil {
		t.Fatal(err)
	}
	if l := client.LLen(ctx, "asyncjob:processing:ai").Val(); l != 0 {
		t.Errorf("processing len after ack = %d, want 0", l)
	}
	if z := client.ZCard(ctx, "asyncjob:leases:ai").Val(); z != 0 {
		t.Errorf("leases after ack = %d, want 0", z)
	}
}

func TestConsumeRedeliversStrandedMessage(t *testing.T) {
	ctx := context.Background()
	b := redisbroker.New(setupClient(t), redisbroker.WithVisibilityTimeout(100*time.Millisecond))

	m := broker.NewMessage("bulk", job.TypeBulkImport, id.NewJobID(), nil, 1)
	_ = b.Publish(ctx, m)
	if got, err := b.Consume(ctx, []string{"bulk"}, 0); err != nil || got == nil {
		t.Fatalf("Consume: %v %v", got, err)
	}

	// The consumer dies without acknowledging.
	time.Sleep(150 * time.Millisecond)

	got, err := b.Consume(ctx, []string{"bulk"}, 0)
	if err != nil || got == nil || got.ID != m.ID {
		t.Fatalf("stranded message not redelivered: %v %v", got, err)
	}
	if got.Attempt != m.Attempt {
		t.Errorf("attempt = %d, want %d: a reclaimed delivery is not a retry", got.Attempt, m.Attempt)
	}
}

func TestReclaimLeasesUnleasedEntry(t *testing.T) {
	ctx := context.Background()
	client := setupClient(t)
	b := redisbroker.New(client, redisbroker.WithVisibilityTimeout(100*time.Millisecond))

	m := broker.NewMessage("ai", job.TypePDFAnalysis, id.NewJobID(), nil, 0)
	raw, err := broker.JSONCodec{}.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	// A consumer crashed between BLMOVE and taking its lease.
	client.LPush(ctx, "asyncjob:processing:ai", raw)

	if n, err := b.Reclaim(ctx, []string{"ai"}); err != nil || n != 0 {
		t.Fatalf("first Reclaim = %d, %v; want 0", n, err)
	}
	if z := client.ZCard(ctx, "asyncjob:leases:ai").Val(); z != 1 {
		t.Fatalf("leases = %d, want 1", z)
	}

	time.Sleep(150 * time.Millisecond)
	if n, err := b.Reclaim(ctx, []string{"ai"}); err != nil || n != 1 {
		t.Fatalf("second Reclaim = %d, %v; want 1", n, err)
	}
	got, err := b.Consume(ctx, []string{"ai"}, time.Second)
	if err != nil || got == nil || got.ID != m.ID {
		t.Fatalf("Consume: %v %v", got, err)
	}
}
