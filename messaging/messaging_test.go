package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Sourabh10122002/talkie-server/membership"
	"github.com/Sourabh10122002/talkie-server/persistence"
	"github.com/Sourabh10122002/talkie-server/testutil"
	"github.com/Sourabh10122002/talkie-server/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store    persistence.Store
	rec      *testutil.Recorder
	pipeline *Pipeline
	engine   *Engine
}

func newFixture(t *testing.T, store persistence.Store) *fixture {
	if store == nil {
		store = testutil.NewStore(t)
	}
	rec := testutil.NewRecorder()
	authorizer := membership.NewAuthorizer(store, nil)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var tick int64
	var mu sync.Mutex
	p, err := NewPipeline(store, authorizer, rec, Options{
		MaxContentLength: 20,
		Now: func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			tick++
			return base.Add(time.Duration(tick) * time.Millisecond)
		},
	})
	require.NoError(t, err)
	return &fixture{
		store:    store,
		rec:      rec,
		pipeline: p,
		engine:   NewEngine(store, authorizer, rec, nil, nil),
	}
}

func decodeMessage(t *testing.T, f testutil.Frame) *types.Message {
	msg := &types.Message{}
	require.NoError(t, json.Unmarshal(f.Data, msg))
	return msg
}

func TestSend(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	msg, err := f.pipeline.Send(ctx, testutil.Identity(testutil.Member), testutil.PublicChannel, "  hello  ", "")
	require.NoError(t, err)
	assert.Equal(t, "hello", msg.Content)
	assert.Equal(t, types.MessageStatusSent, msg.Status)
	assert.NotEmpty(t, msg.Id)

	frames := f.rec.Events(types.EventMessageReceived)
	require.Len(t, frames, 1)
	assert.Equal(t, "room:"+testutil.PublicChannel, frames[0].Target)
	got := decodeMessage(t, frames[0])
	assert.Equal(t, "member-name", got.Sender.Username)
	assert.Equal(t, "member@example.com", got.Sender.Email)
	assert.Empty(t, got.DeliveredTo)

	stored, err := f.store.GetMessage(ctx, msg.Id)
	require.NoError(t, err)
	assert.Equal(t, "hello", stored.Content)
}

func TestSendValidation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	for _, content := range []string{"", "   ", strings.Repeat("x", 21)} {
		_, err := f.pipeline.Send(ctx, testutil.Identity(testutil.Member), testutil.PublicChannel, content, "")
		assert.True(t, types.IsKind(err, types.ErrorKindValidation), "%q", content)
	}
	_, err := f.pipeline.Send(ctx, testutil.Identity(testutil.Member), "", "hi", "")
	assert.True(t, types.IsKind(err, types.ErrorKindValidation))
	_, err = f.pipeline.Send(ctx, testutil.Identity(testutil.Member), "missing", "hi", "")
	assert.True(t, types.IsKind(err, types.ErrorKindNotFound))
	assert.Empty(t, f.rec.Frames)
}

func TestSendPrivateChannelDenied(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, err := f.pipeline.Send(ctx, testutil.Identity(testutil.Outsider), testutil.PrivateChannel, "let me in", "")
	assert.True(t, types.IsKind(err, types.ErrorKindAuthorization))
	assert.Empty(t, f.rec.Frames)

	history, err := f.store.ChannelHistory(ctx, testutil.PrivateChannel, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, history)
}

type failingStore struct {
	persistence.Store
}

func (failingStore) PersistMessage(context.Context, *types.Message) error {
	return errors.New("disk full")
}

func TestSendPersistenceFailure(t *testing.T) {
	f := newFixture(t, failingStore{testutil.NewStore(t)})
	_, err := f.pipeline.Send(context.Background(), testutil.Identity(testutil.Member), testutil.PublicChannel, "hi", "")
	require.Error(t, err)
	assert.Equal(t, types.ErrorKindInternal, types.KindOf(err))
	assert.Empty(t, f.rec.Frames)
}

func TestSendDedup(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	first, err := f.pipeline.Send(ctx, testutil.Identity(testutil.Member), testutil.PublicChannel, "once", "c-1")
	require.NoError(t, err)
	again, err := f.pipeline.Send(ctx, testutil.Identity(testutil.Member), testutil.PublicChannel, "once", "c-1")
	require.NoError(t, err)
	assert.Equal(t, first.Id, again.Id)
	frames := f.rec.Events(types.EventMessageReceived)
	require.Len(t, frames, 2)
	assert.Equal(t, "room:"+testutil.PublicChannel, frames[0].Target)
	assert.Equal(t, "identity:"+testutil.Member, frames[1].Target)

	other, err := f.pipeline.Send(ctx, testutil.Identity(testutil.Admin), testutil.PublicChannel, "once", "c-1")
	require.NoError(t, err)
	assert.NotEqual(t, first.Id, other.Id, "client ids are scoped per sender")
}

func TestSendOrderPerRoom(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.pipeline.Send(ctx, testutil.Identity(testutil.Member), testutil.PublicChannel, fmt.Sprintf("m%d", i), "")
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	history, err := f.store.ChannelHistory(ctx, testutil.PublicChannel, 0, 0)
	require.NoError(t, err)
	frames := f.rec.Events(types.EventMessageReceived)
	require.Len(t, frames, len(history))
	for i, fr := range frames {
		assert.Equal(t, history[i].Id, decodeMessage(t, fr).Id)
	}
}

func TestSendClockStepBack(t *testing.T) {
	store := testutil.NewStore(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	newPipeline := func(offsets ...time.Duration) *Pipeline {
		var mu sync.Mutex
		p, err := NewPipeline(store, membership.NewAuthorizer(store, nil), testutil.NewRecorder(), Options{
			Now: func() time.Time {
				mu.Lock()
				defer mu.Unlock()
				ts := base.Add(offsets[0])
				if len(offsets) > 1 {
					offsets = offsets[1:]
				}
				return ts
			},
		})
		require.NoError(t, err)
		return p
	}
	send := func(p *Pipeline, content string) *types.Message {
		msg, err := p.Send(ctx, testutil.Identity(testutil.Member), testutil.PublicChannel, content, "")
		require.NoError(t, err)
		return msg
	}

	p := newPipeline(10*time.Second, 5*time.Second, 5*time.Second)
	first := send(p, "m0")
	second := send(p, "m1")
	third := send(p, "m2")
	assert.True(t, second.Timestamp.After(first.Timestamp))
	assert.True(t, third.Timestamp.After(second.Timestamp))

	// a fresh pipeline picks up where the stored room left off
	fourth := send(newPipeline(time.Second), "m3")
	assert.True(t, fourth.Timestamp.After(third.Timestamp))

	history, err := store.ChannelHistory(ctx, testutil.PublicChannel, 0, 0)
	require.NoError(t, err)
	contents := make([]string, 0, len(history))
	for _, m := range history {
		contents = append(contents, m.Content)
	}
	assert.Equal(t, []string{"m0", "m1", "m2", "m3"}, contents)
}

func TestHistory(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := f.pipeline.Send(ctx, testutil.Identity(testutil.Member), testutil.PublicChannel, fmt.Sprintf("m%d", i), "")
		require.NoError(t, err)
	}
	page, err := f.pipeline.History(ctx, testutil.Identity(testutil.Outsider), testutil.PublicChannel, 0, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "m3", page[0].Content)
	assert.Equal(t, "m4", page[1].Content)

	page, err = f.pipeline.History(ctx, testutil.Identity(testutil.Outsider), testutil.PublicChannel, 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "m0", page[0].Content)

	_, err = f.pipeline.History(ctx, testutil.Identity(testutil.Outsider), testutil.PrivateChannel, 0, 0)
	assert.True(t, types.IsKind(err, types.ErrorKindAuthorization))
	_, err = f.pipeline.History(ctx, testutil.Identity(testutil.Outsider), testutil.PublicChannel, -1, 0)
	assert.True(t, types.IsKind(err, types.ErrorKindValidation))
}

func TestMarkIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	msg, err := f.pipeline.Send(ctx, testutil.Identity(testutil.Owner), testutil.PublicChannel, "hi", "")
	require.NoError(t, err)
	member := testutil.Identity(testutil.Member)

	changed, err := f.engine.MarkDelivered(ctx, member, msg.Id, testutil.PublicChannel)
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = f.engine.MarkDelivered(ctx, member, msg.Id, testutil.PublicChannel)
	require.NoError(t, err)
	assert.False(t, changed)
	require.Len(t, f.rec.Events(types.EventMessageStatusUpdated), 1)
	assert.Equal(t, types.MessageStatusDelivered, decodeMessage(t, f.rec.Events(types.EventMessageStatusUpdated)[0]).Status)

	changed, err = f.engine.MarkRead(ctx, member, msg.Id, "")
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = f.engine.MarkRead(ctx, member, msg.Id, "")
	require.NoError(t, err)
	assert.False(t, changed)
	changed, err = f.engine.MarkDelivered(ctx, member, msg.Id, "")
	require.NoError(t, err)
	assert.False(t, changed)

	updates := f.rec.Events(types.EventMessageStatusUpdated)
	require.Len(t, updates, 2)
	last := decodeMessage(t, updates[1])
	assert.Equal(t, types.MessageStatusRead, last.Status)
	assert.Equal(t, []string{testutil.Member}, last.DeliveredTo)
	assert.Equal(t, []string{testutil.Member}, last.ReadBy)
}

func TestMarkReadBeforeDelivered(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	msg, err := f.pipeline.Send(ctx, testutil.Identity(testutil.Owner), testutil.PublicChannel, "hi", "")
	require.NoError(t, err)
	_, err = f.engine.MarkRead(ctx, testutil.Identity(testutil.Admin), msg.Id, testutil.PublicChannel)
	require.NoError(t, err)
	_, err = f.engine.MarkDelivered(ctx, testutil.Identity(testutil.Member), msg.Id, testutil.PublicChannel)
	require.NoError(t, err)

	stored, err := f.store.GetMessage(ctx, msg.Id)
	require.NoError(t, err)
	assert.Equal(t, types.MessageStatusRead, stored.Status)
	for _, r := range stored.ReadBy {
		assert.Contains(t, stored.DeliveredTo, r)
	}
}

func TestMarkRejections(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	msg, err := f.pipeline.Send(ctx, testutil.Identity(testutil.Member), testutil.PrivateChannel, "psst", "")
	require.NoError(t, err)
	f.rec.Reset()

	_, err = f.engine.MarkDelivered(ctx, testutil.Identity(testutil.Outsider), msg.Id, "")
	assert.True(t, types.IsKind(err, types.ErrorKindAuthorization))
	_, err = f.engine.MarkRead(ctx, testutil.Identity(testutil.Admin), "missing", "")
	assert.True(t, types.IsKind(err, types.ErrorKindNotFound))
	_, err = f.engine.MarkRead(ctx, testutil.Identity(testutil.Admin), msg.Id, testutil.PublicChannel)
	assert.True(t, types.IsKind(err, types.ErrorKindNotFound))
	_, err = f.engine.MarkRead(ctx, testutil.Identity(testutil.Admin), "", "")
	assert.True(t, types.IsKind(err, types.ErrorKindValidation))

	changed, err := f.engine.MarkRead(ctx, testutil.Identity(testutil.Member), msg.Id, "")
	require.NoError(t, err)
	assert.False(t, changed, "own messages are not marked")
	assert.Empty(t, f.rec.Frames)
}

func TestConcurrentMarkDelivered(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	msg, err := f.pipeline.Send(ctx, testutil.Identity(testutil.Owner), testutil.PublicChannel, "hi", "")
	require.NoError(t, err)

	recipients := []string{testutil.Admin, testutil.Member, testutil.Outsider}
	var wg sync.WaitGroup
	start := make(chan struct{})
	for _, r := range recipients {
		wg.Add(1)
		go func(r string) {
			defer wg.Done()
			<-start
			_, err := f.engine.MarkDelivered(ctx, testutil.Identity(r), msg.Id, testutil.PublicChannel)
			assert.NoError(t, err)
		}(r)
	}
	close(start)
	wg.Wait()

	stored, err := f.store.GetMessage(ctx, msg.Id)
	require.NoError(t, err)
	assert.ElementsMatch(t, recipients, stored.DeliveredTo)
	assert.Len(t, f.rec.Events(types.EventMessageStatusUpdated), len(recipients))
	assert.Equal(t, 0, f.engine.messageLocks.size())
}

func TestMarkChannelRead(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := f.pipeline.Send(ctx, testutil.Identity(testutil.Owner), testutil.PublicChannel, fmt.Sprintf("m%d", i), "")
		require.NoError(t, err)
	}
	_, err := f.pipeline.Send(ctx, testutil.Identity(testutil.Member), testutil.PublicChannel, "mine", "")
	require.NoError(t, err)
	f.rec.Reset()

	count, err := f.engine.MarkChannelRead(ctx, testutil.Identity(testutil.Member), testutil.PublicChannel)
	require.NoError(t, err)
	assert.Equal(t, 5, count)
	assert.Len(t, f.rec.Events(types.EventMessageStatusUpdated), 5)

	count, err = f.engine.MarkChannelRead(ctx, testutil.Identity(testutil.Member), testutil.PublicChannel)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	assert.Len(t, f.rec.Events(types.EventMessageStatusUpdated), 5)

	_, err = f.engine.MarkChannelRead(ctx, testutil.Identity(testutil.Stranger), testutil.PublicChannel)
	assert.True(t, types.IsKind(err, types.ErrorKindAuthorization))
}

func TestKeyedMutex(t *testing.T) {
	k := newKeyedMutex()
	unlock := k.Lock("a")
	done := make(chan struct{})
	go func() {
		defer close(done)
		k.Lock("a")()
	}()
	select {
	case <-done:
		t.Fatal("second lock must wait")
	case <-time.After(20 * time.Millisecond):
	}
	k.Lock("b")()
	unlock()
	<-done
	assert.Equal(t, 0, k.size())
}
