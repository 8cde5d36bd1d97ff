package messaging

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/Sourabh10122002/talkie-server/metrics"
	"github.com/Sourabh10122002/talkie-server/persistence"
	"github.com/Sourabh10122002/talkie-server/room"
	"github.com/Sourabh10122002/talkie-server/types"
	"github.com/hashicorp/go-hclog"
	lru "github.com/hashicorp/golang-lru"
)

const (
	defaultMaxContentLength = 4000
	defaultDedupCacheSize   = 4096
	defaultPageSize         = 50
	defaultMaxPageSize      = 100
)

// Authorizer decides room permissions, see membership.Authorizer.
type Authorizer interface {
	CanJoin(ctx context.Context, identity *types.Identity, channelId string) error
	CanPost(ctx context.Context, identity *types.Identity, channelId string) error
}

type Options struct {
	MaxContentLength int
	DedupCacheSize   int
	PageSize         int
	MaxPageSize      int
	Logger           hclog.Logger
	Metrics          *metrics.Metrics
	// Now is used for message timestamps, it defaults to time.Now().UTC()
	Now func() time.Time
}

func (o *Options) setDefaults() {
	if o.MaxContentLength <= 0 {
		o.MaxContentLength = defaultMaxContentLength
	}
	if o.DedupCacheSize <= 0 {
		o.DedupCacheSize = defaultDedupCacheSize
	}
	if o.PageSize <= 0 {
		o.PageSize = defaultPageSize
	}
	if o.MaxPageSize < o.PageSize {
		o.MaxPageSize = defaultMaxPageSize
		if o.MaxPageSize < o.PageSize {
			o.MaxPageSize = o.PageSize
		}
	}
	if o.Logger == nil {
		o.Logger = hclog.NewNullLogger()
	}
	if o.Now == nil {
		o.Now = func() time.Time { return time.Now().UTC() }
	}
}

// Pipeline persists new messages and fans them out to the room.
type Pipeline struct {
	store       persistence.Store
	authorizer  Authorizer
	broadcaster room.Broadcaster
	opts        Options

	roomLocks *keyedMutex
	// sender id + client message id -> message id
	dedup *lru.ARCCache
	nonce uint64

	stampsMu sync.Mutex
	// room id -> timestamp of the last message persisted by this pipeline
	lastStamps map[string]time.Time
}

func NewPipeline(store persistence.Store, authorizer Authorizer, broadcaster room.Broadcaster, opts Options) (*Pipeline, error) {
	opts.setDefaults()
	dedup, err := lru.NewARC(opts.DedupCacheSize)
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		store:       store,
		authorizer:  authorizer,
		broadcaster: broadcaster,
		opts:        opts,
		roomLocks:   newKeyedMutex(),
		dedup:       dedup,
		lastStamps:  make(map[string]time.Time),
	}, nil
}

// stamp returns the timestamp for the next message of the room. Timestamps of a room never go backwards, even if
// the wall clock does, so stored order matches persistence order. Callers hold the room lock.
func (p *Pipeline) stamp(ctx context.Context, channelId string) time.Time {
	now := p.opts.Now()
	p.stampsMu.Lock()
	last, ok := p.lastStamps[channelId]
	p.stampsMu.Unlock()
	if !ok {
		if latest, err := p.store.ChannelHistory(ctx, channelId, 0, 1); err == nil && len(latest) == 1 {
			last, ok = latest[0].Timestamp, true
		}
	}
	if ok && !now.After(last) {
		now = last.Add(time.Nanosecond)
	}
	return now
}

func (p *Pipeline) setStamp(channelId string, ts time.Time) {
	p.stampsMu.Lock()
	p.lastStamps[channelId] = ts
	p.stampsMu.Unlock()
}

func (p *Pipeline) validate(channelId, content string) (string, error) {
	if channelId == "" {
		return "", types.NewValidationError("channelId is required")
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return "", types.NewValidationError("content must not be empty")
	}
	if utf8.RuneCountInString(content) > p.opts.MaxContentLength {
		return "", types.NewValidationError("content exceeds %d characters", p.opts.MaxContentLength)
	}
	return content, nil
}

// Send authorizes, persists and broadcasts a new message. Nothing is broadcast if any step fails. If
// clientMessageId repeats a previous send of the same sender, the stored message is returned and only sent back to
// the sender.
func (p *Pipeline) Send(ctx context.Context, identity *types.Identity, channelId, content, clientMessageId string) (*types.Message, error) {
	content, err := p.validate(channelId, content)
	if err != nil {
		return nil, err
	}
	if err := p.authorizer.CanPost(ctx, identity, channelId); err != nil {
		return nil, err
	}

	unlock := p.roomLocks.Lock(channelId)
	defer unlock()

	dedupKey := ""
	if clientMessageId != "" {
		dedupKey = identity.Id + "\x00" + clientMessageId
		if id, ok := p.dedup.Get(dedupKey); ok {
			msg, err := p.store.GetMessage(ctx, id.(string))
			if err == nil && msg.ChannelId == channelId {
				p.opts.Logger.Debug("duplicate send", "identity", identity.Id, "clientMessageId", clientMessageId)
				// only the sender is told again
				if frame, err := types.EncodeFrame(types.EventMessageReceived, msg); err == nil {
					p.broadcaster.SendToIdentity(identity.Id, frame)
				}
				return msg, nil
			}
		}
	}

	msg := types.NewMessage(channelId, identity, content, p.stamp(ctx, channelId))
	if err := msg.CreateId(atomic.AddUint64(&p.nonce, 1)); err != nil {
		return nil, err
	}
	if err := p.store.PersistMessage(ctx, msg); err != nil {
		p.opts.Logger.Error("could not persist message", "channel", channelId, "error", err)
		return nil, err
	}
	p.setStamp(channelId, msg.Timestamp)
	if dedupKey != "" {
		p.dedup.Add(dedupKey, msg.Id)
	}

	frame, err := types.EncodeFrame(types.EventMessageReceived, msg)
	if err != nil {
		return nil, err
	}
	n := p.broadcaster.BroadcastRoom(channelId, frame, "")
	p.opts.Metrics.MessageSent()
	p.opts.Logger.Debug("message sent", "id", msg.Id, "channel", channelId, "recipients", n)
	return msg, nil
}

// History returns one page of the channel's messages, oldest first. Page 0 holds the newest messages.
func (p *Pipeline) History(ctx context.Context, identity *types.Identity, channelId string, page, limit int) ([]*types.Message, error) {
	if page < 0 {
		return nil, types.NewValidationError("page must not be negative")
	}
	if err := p.authorizer.CanJoin(ctx, identity, channelId); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = p.opts.PageSize
	}
	if limit > p.opts.MaxPageSize {
		limit = p.opts.MaxPageSize
	}
	return p.store.ChannelHistory(ctx, channelId, page*limit, limit)
}
