package websocket_test

import (
	"context"
	"testing"
	"time"

	"github.com/dom/studybuddy/internal/changefeed"
	"github.com/dom/studybuddy/internal/service"
	"github.com/dom/studybuddy/internal/testutil"
	"github.com/dom/studybuddy/internal/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const wait = 2 * time.Second

func waitForConnections(t *testing.T, hub *websocket.Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return hub.Connections() == n }, wait, 10*time.Millisecond)
}

func TestHub_SyncThenChanges(t *testing.T) {
	ts := testutil.NewTestServer(t)
	a, tokenA := testutil.NewUserBuilder().WithDisplayName("ada").BuildAndAuthenticate(t, ts)
	b, tokenB := testutil.NewUserBuilder().WithDisplayName("ben").BuildAndAuthenticate(t, ts)
	ctx := context.Background()

	clientA := testutil.NewWSClient(t, ts.WebSocketURL(tokenA))
	clientB := testutil.NewWSClient(t, ts.WebSocketURL(tokenB))

	syncMsg, snap := clientA.ExpectStateSync(wait)
	assert.Equal(t, a.ID, snap.User.ID)
	assert.Nil(t, snap.Buddy.Buddy)
	clientB.ExpectStateSync(wait)
	waitForConnections(t, ts.Hub, 2)

	pair := testutil.Pair(t, ts.Harness, a.ID, b.ID)

	pairMsgA, change := clientA.ExpectChange(changefeed.KindPair, wait)
	assert.Greater(t, pairMsgA.Seq, syncMsg.Seq)
	assert.Equal(t, pair.InstanceID.String(), change.EntityID)
	pairMsgB, _ := clientB.ExpectChange(changefeed.KindPair, wait)

	session, err := ts.Services.Buddy.Propose(ctx, service.ProposeInput{
		ProposerID: a.ID, ResponderID: b.ID, TaskName: "geometry", DurationSeconds: 1200,
	})
	require.NoError(t, err)
	_, err = ts.Services.Buddy.Accept(ctx, session.ID, b.ID)
	require.NoError(t, err)

	last := map[*testutil.WSClient]int64{clientA: pairMsgA.Seq, clientB: pairMsgB.Seq}
	for client, prev := range last {
		msg, change := client.ExpectChange(changefeed.KindBuddySession, wait)
		assert.Equal(t, session.ID.String(), change.EntityID)
		assert.Greater(t, msg.Seq, prev, "seq increases per connection")
	}
}

func TestHub_SyncStateOnRequest(t *testing.T) {
	ts := testutil.NewTestServer(t)
	_, token := testutil.NewUserBuilder().BuildAndAuthenticate(t, ts)

	client := testutil.NewWSClient(t, ts.WebSocketURL(token))
	first, _ := client.ExpectStateSync(wait)

	client.SyncState()
	second, _ := client.ExpectStateSync(wait)
	assert.Greater(t, second.Seq, first.Seq)
}

func TestHub_UnknownMessage(t *testing.T) {
	ts := testutil.NewTestServer(t)
	_, token := testutil.NewUserBuilder().BuildAndAuthenticate(t, ts)

	client := testutil.NewWSClient(t, ts.WebSocketURL(token))
	client.ExpectStateSync(wait)

	client.Send(websocket.MessageType("DANCE"))
	payload := client.ExpectError(wait)
	assert.Equal(t, "UNKNOWN_MESSAGE", payload.Code)
}

func TestHub_OnlyAudienceReceivesChanges(t *testing.T) {
	ts := testutil.NewTestServer(t)
	a, _ := testutil.NewUserBuilder().BuildAndAuthenticate(t, ts)
	b, _ := testutil.NewUserBuilder().BuildAndAuthenticate(t, ts)
	_, tokenC := testutil.NewUserBuilder().BuildAndAuthenticate(t, ts)

	outsider := testutil.NewWSClient(t, ts.WebSocketURL(tokenC))
	outsider.ExpectStateSync(wait)
	waitForConnections(t, ts.Hub, 1)

	testutil.Pair(t, ts.Harness, a.ID, b.ID)
	outsider.ExpectNoMessage(200 * time.Millisecond)
}

func TestHub_RejectsBadToken(t *testing.T) {
	ts := testutil.NewTestServer(t)

	_, resp, err := testutil.DialWS(ts.WebSocketURL("garbage"))
	require.Error(t, err)
	if resp != nil {
		assert.Equal(t, 401, resp.StatusCode)
	}
}

func TestHub_Disconnect(t *testing.T) {
	ts := testutil.NewTestServer(t)
	user, token := testutil.NewUserBuilder().BuildAndAuthenticate(t, ts)

	client := testutil.NewWSClient(t, ts.WebSocketURL(token))
	client.ExpectStateSync(wait)
	waitForConnections(t, ts.Hub, 1)
	assert.Equal(t, 1, ts.Hub.ConnectionsFor(user.ID))

	client.Close()
	waitForConnections(t, ts.Hub, 0)
}
