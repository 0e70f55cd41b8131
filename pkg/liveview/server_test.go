package liveview

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/reelchat/pkg/chat"
	"github.com/go-go-golems/reelchat/pkg/persistence/chatstore"
	"github.com/go-go-golems/reelchat/pkg/redisstream"
	"github.com/go-go-golems/reelchat/pkg/settings"
)

type liveFixture struct {
	srv    *Server
	ts     *httptest.Server
	pubsub *redisstream.PubSub
	store  *chatstore.InMemoryTranscriptStore
}

func newLiveFixture(t *testing.T, opts ...ServerOption) *liveFixture {
	t.Helper()
	ps, err := redisstream.BuildPubSub(settings.RedisSettings{})
	require.NoError(t, err)
	store := chatstore.NewInMemoryTranscriptStore(0)
	srv, err := NewServer(ps, store, opts...)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		srv.Close()
		_ = ps.Close()
	})
	return &liveFixture{srv: srv, ts: ts, pubsub: ps, store: store}
}

func (fx *liveFixture) dial(t *testing.T, convID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(fx.ts.URL, "http") + "/ws?conv_id=" + convID
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var f Frame
	require.NoError(t, json.Unmarshal(data, &f))
	return f
}

func TestServerHydratesThenStreamsSnapshots(t *testing.T) {
	fx := newLiveFixture(t)
	ctx := context.Background()
	require.NoError(t, fx.store.RecordMessages(ctx, "c1", []chat.Message{
		{ID: "u0", Role: chat.RoleUser, Content: "earlier question"},
		{ID: "a0", Role: chat.RoleAssistant, Content: "earlier answer"},
	}))

	conn := fx.dial(t, "c1")
	hydrate := readFrame(t, conn)
	require.Equal(t, FrameHydrate, hydrate.Type)
	require.Equal(t, "c1", hydrate.Snapshot.ConvID)
	require.Len(t, hydrate.Snapshot.Messages, 2)
	require.Equal(t, 1, fx.srv.Viewers("c1"))

	tr := chat.NewTranscript("c1")
	redisstream.NewSnapshotPublisher(fx.pubsub.Publisher).Attach(tr)
	tr.Update(true, func(msgs []chat.Message) []chat.Message {
		return chat.Append(msgs, chat.Message{ID: "u1", Role: chat.RoleUser, Content: "recommend a movie"})
	})

	snap := readFrame(t, conn)
	require.Equal(t, FrameSnapshot, snap.Type)
	require.Equal(t, uint64(1), snap.Snapshot.Version)
	require.True(t, snap.Snapshot.Loading)
	require.Equal(t, "recommend a movie", snap.Snapshot.Messages[0].Content)
	require.NotZero(t, snap.Seq)
}

func TestServerIgnoresOtherConversations(t *testing.T) {
	fx := newLiveFixture(t)
	conn := fx.dial(t, "c1")
	readFrame(t, conn)

	pub := redisstream.NewSnapshotPublisher(fx.pubsub.Publisher)
	require.NoError(t, pub.Publish(chat.Snapshot{ConvID: "c2", Version: 1}))
	require.NoError(t, pub.Publish(chat.Snapshot{ConvID: "c1", Version: 1}))

	f := readFrame(t, conn)
	require.Equal(t, "c1", f.Snapshot.ConvID)
}

func TestServerEvictsIdleConversation(t *testing.T) {
	fx := newLiveFixture(t, WithIdleTimeout(20*time.Millisecond))
	conn := fx.dial(t, "c1")
	readFrame(t, conn)
	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		fx.srv.mu.Lock()
		defer fx.srv.mu.Unlock()
		_, ok := fx.srv.convs["c1"]
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServerRejectsMissingConversation(t *testing.T) {
	fx := newLiveFixture(t)
	resp, err := http.Get(fx.ts.URL + "/ws")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServerReadAPI(t *testing.T) {
	fx := newLiveFixture(t)
	ctx := context.Background()
	require.NoError(t, fx.store.RecordMessages(ctx, "c1", []chat.Message{
		{ID: "u0", Role: chat.RoleUser, Content: "q"},
		{ID: "a0", Role: chat.RoleAssistant, Content: "a"},
	}))

	resp, err := http.Get(fx.ts.URL + "/api/conversations")
	require.NoError(t, err)
	var convs struct {
		Conversations []chatstore.ConversationRecord `json:"conversations"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&convs))
	_ = resp.Body.Close()
	require.Len(t, convs.Conversations, 1)
	require.Equal(t, 2, convs.Conversations[0].MessageCount)

	resp, err = http.Get(fx.ts.URL + "/api/conversations/c1/messages?limit=1")
	require.NoError(t, err)
	var msgs struct {
		ConvID   string         `json:"conv_id"`
		Messages []chat.Message `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&msgs))
	_ = resp.Body.Close()
	require.Equal(t, "c1", msgs.ConvID)
	require.Len(t, msgs.Messages, 1)
	require.Equal(t, "a", msgs.Messages[0].Content)

	resp, err = http.Get(fx.ts.URL + "/api/conversations/none/messages")
	require.NoError(t, err)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&msgs))
	_ = resp.Body.Close()
	require.Empty(t, msgs.Messages)
}

func TestNewServerRequiresPubSub(t *testing.T) {
	_, err := NewServer(nil, nil)
	require.Error(t, err)
}
