package app_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wedding-bet-service/internal/app"
	"wedding-bet-service/internal/domain"
)

func TestFeedDeliversPerCollection(t *testing.T) {
	feed := app.NewFeed()
	bets, stopBets := feed.Subscribe(domain.CollectionBets)
	defer stopBets()
	winners, stopWinners := feed.Subscribe(domain.CollectionWinners)
	defer stopWinners()

	feed.Publish(context.Background(), domain.Change{Collection: domain.CollectionBets, DocumentID: "b1"})

	select {
	case c := <-bets:
		assert.Equal(t, "b1", c.DocumentID)
	case <-time.After(time.Second):
		t.Fatal("expected bet change")
	}
	select {
	case c := <-winners:
		t.Fatalf("unexpected change %+v", c)
	default:
	}
}

func TestFeedDropsStaleChangesForSlowSubscriber(t *testing.T) {
	feed := app.NewFeed()
	ch, stop := feed.Subscribe(domain.CollectionBets)
	defer stop()

	for i := 0; i < 20; i++ {
		feed.Publish(context.Background(), domain.Change{Collection: domain.CollectionBets, DocumentID: string(rune('a' + i))})
	}
	var last domain.Change
	for len(ch) > 0 {
		last = <-ch
	}
	assert.Equal(t, string(rune('a'+19)), last.DocumentID)
}

func TestFeedCancelClosesAndForgets(t *testing.T) {
	feed := app.NewFeed()
	ch, stop := feed.Subscribe(domain.CollectionWinners)
	require.Equal(t, 1, feed.Subscribers(domain.CollectionWinners))

	stop()
	stop()
	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, feed.Subscribers(domain.CollectionWinners))
}

func TestFeedWatch(t *testing.T) {
	feed := app.NewFeed()
	var seen atomic.Int32
	cancel := feed.Watch(domain.CollectionWinners, func(domain.Change) { seen.Add(1) })

	feed.Publish(context.Background(), domain.Change{Collection: domain.CollectionWinners})
	require.Eventually(t, func() bool { return seen.Load() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	feed.Publish(context.Background(), domain.Change{Collection: domain.CollectionWinners})
	assert.Equal(t, int32(1), seen.Load())
}
