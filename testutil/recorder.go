// Package testutil contains helpers shared by the package tests.
package testutil

import (
	"encoding/json"
	"sync"

	"github.com/Sourabh10122002/talkie-server/types"
)

// Frame is a frame captured by Recorder together with its target.
type Frame struct {
	// Target is "room:<id>", "identity:<id>" or "all"
	Target string
	Except string
	Event  string
	Data   json.RawMessage
}

// Recorder is a room.Broadcaster that records every frame instead of delivering it.
type Recorder struct {
	sync.Mutex
	Frames []Frame
	// Delivered is returned by all broadcast methods
	Delivered int
}

func NewRecorder() *Recorder {
	return &Recorder{Frames: make([]Frame, 0), Delivered: 1}
}

func (r *Recorder) record(target, except string, frame []byte) int {
	msg := types.WebsocketMessage{}
	_ = json.Unmarshal(frame, &msg)
	r.Lock()
	defer r.Unlock()
	r.Frames = append(r.Frames, Frame{Target: target, Except: except, Event: msg.Event, Data: msg.Data})
	return r.Delivered
}

func (r *Recorder) BroadcastRoom(roomId string, frame []byte, exceptConnId string) int {
	return r.record("room:"+roomId, exceptConnId, frame)
}

func (r *Recorder) SendToIdentity(identityId string, frame []byte) int {
	return r.record("identity:"+identityId, "", frame)
}

func (r *Recorder) BroadcastAll(frame []byte) int {
	return r.record("all", "", frame)
}

// Events returns the recorded frames with the given event name.
func (r *Recorder) Events(event string) []Frame {
	r.Lock()
	defer r.Unlock()
	res := make([]Frame, 0)
	for _, f := range r.Frames {
		if f.Event == event {
			res = append(res, f)
		}
	}
	return res
}

func (r *Recorder) Reset() {
	r.Lock()
	defer r.Unlock()
	r.Frames = r.Frames[:0]
}
