package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/stretchr/testify/require"
)

const (
	mochiTCPPort  = 18833
	mochiUserName = "operator"
	mochiPassword = "calibrate"
)

func startMochi(t *testing.T) {
	t.Helper()

	ledger := &auth.Ledger{
		Auth: auth.AuthRules{
			{
				Username: auth.RString(mochiUserName),
				Password: auth.RString(mochiPassword),
				Allow:    true,
			},
		},
	}

	server := mochi.New(nil)
	require.NoError(t, server.AddHook(new(auth.Hook), &auth.Options{Ledger: ledger}))

	cfg := listeners.NewTCP(listeners.Config{
		Type:    "tcp",
		Address: fmt.Sprintf("localhost:%d", mochiTCPPort),
	})
	require.NoError(t, server.AddListener(cfg))
	require.NoError(t, server.Serve())

	t.Cleanup(func() { _ = server.Close() })
}

func newTestClient(clientID, password string) *Client {
	return NewClient(Config{
		Host:      "localhost",
		Port:      mochiTCPPort,
		Username:  mochiUserName,
		Password:  password,
		ClientID:  clientID,
		KeepAlive: 30 * time.Second,
	}, nil, nil)
}

func receive(t *testing.T, c *Client) Message {
	t.Helper()
	select {
	case msg := <-c.Messages():
		return msg
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for message")
		return Message{}
	}
}

func TestClient_NotConnected(t *testing.T) {
	c := newTestClient("idle", mochiPassword)
	ctx := context.Background()

	require.ErrorIs(t, c.Publish(ctx, "a", nil), ErrNotConnected)
	require.ErrorIs(t, c.Subscribe(ctx, "a/#"), ErrNotConnected)
	require.ErrorIs(t, c.Unsubscribe(ctx, "a/#"), ErrNotConnected)
	require.ErrorIs(t, c.Disconnect(), ErrNotConnected)
}

func TestClient_DialError(t *testing.T) {
	c := newTestClient("nodial", mochiPassword)
	c.dial = func(context.Context) (net.Conn, error) { return nil, errors.New("no route") }
	require.Error(t, c.Connect(context.Background()))
}

func TestWithMochi(t *testing.T) {
	startMochi(t)

	t.Run("ConnectRejectedWithBadPassword", func(t *testing.T) {
		c := newTestClient("intruder", "wrong")
		require.Error(t, c.Connect(context.Background()))
	})

	t.Run("SubscribePublishInOrder", func(t *testing.T) {
		ctx := context.Background()
		c := newTestClient("powercal-test", mochiPassword)
		require.NoError(t, c.Connect(ctx))
		t.Cleanup(func() { _ = c.Disconnect() })
		require.ErrorIs(t, c.Connect(ctx), ErrAlreadyConnected)

		require.NoError(t, c.Subscribe(ctx, "tele/+/LWT"))
		require.NoError(t, c.Publish(ctx, "tele/tasmota1/LWT", []byte("Online")))
		require.NoError(t, c.Publish(ctx, "tele/tasmota2/LWT", []byte("Offline")))

		first := receive(t, c)
		require.Equal(t, "tele/tasmota1/LWT", first.Topic)
		require.Equal(t, []byte("Online"), first.Payload)

		second := receive(t, c)
		require.Equal(t, "tele/tasmota2/LWT", second.Topic)
	})

	t.Run("UnsubscribeStopsDelivery", func(t *testing.T) {
		ctx := context.Background()
		c := newTestClient("powercal-unsub", mochiPassword)
		require.NoError(t, c.Connect(ctx))
		t.Cleanup(func() { _ = c.Disconnect() })

		require.NoError(t, c.Subscribe(ctx, "foo/#"))
		require.NoError(t, c.Subscribe(ctx, "bar/#"))
		require.NoError(t, c.Unsubscribe(ctx, "foo/#"))

		require.NoError(t, c.Publish(ctx, "foo/x", []byte("dropped")))
		require.NoError(t, c.Publish(ctx, "bar/x", []byte("kept")))

		msg := receive(t, c)
		require.Equal(t, "bar/x", msg.Topic)
	})
}
