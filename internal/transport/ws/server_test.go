package ws

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"voxelcraft.ai/blockentity/internal/protocol"
	"voxelcraft.ai/blockentity/internal/registry"
	"voxelcraft.ai/blockentity/internal/sim/tuning"
	"voxelcraft.ai/blockentity/internal/sim/world"
)

func startServer(t *testing.T) string {
	t.Helper()
	l := logrus.New()
	l.SetOutput(io.Discard)
	reg, err := registry.Build([]registry.ItemDef{{Code: "chest"}}, []string{"chest"}, nil)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	tune := tuning.Defaults()
	tune.TickRateHz = 50
	w, err := world.New(world.Config{ID: "ws-test", Tuning: tune}, reg, l)
	if err != nil {
		t.Fatalf("world: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = w.Run(ctx) }()
	srv := httptest.NewServer(NewServer(w, l).Handler())
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, b, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		t.Fatalf("decode %s: %v", b, err)
	}
}

func TestHandshakeAndBlockRoundTrip(t *testing.T) {
	conn := dial(t, startServer(t))
	if err := conn.WriteJSON(protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		PlayerName:      "tester",
		Creative:        true,
	}); err != nil {
		t.Fatalf("hello: %v", err)
	}
	var welcome protocol.WelcomeMsg
	readFrame(t, conn, &welcome)
	if welcome.Type != protocol.TypeWelcome || welcome.PlayerID == "" || welcome.WorldParams.TickRateHz != 50 {
		t.Fatalf("welcome: %+v", welcome)
	}

	if err := conn.WriteJSON(protocol.BlockMsg{
		Type:            protocol.TypeBlock,
		ProtocolVersion: protocol.Version,
		Op:              protocol.BlockPlace,
		Pos:             [3]int{1, 2, 3},
		Block:           "chest",
	}); err != nil {
		t.Fatalf("place: %v", err)
	}
	var set protocol.BlockMsg
	readFrame(t, conn, &set)
	if set.Op != protocol.BlockSet || set.Block != "chest" || set.Pos != [3]int{1, 2, 3} {
		t.Fatalf("set: %+v", set)
	}
}

func TestHandshakeRejectsVersion(t *testing.T) {
	conn := dial(t, startServer(t))
	if err := conn.WriteJSON(protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: "0.1"}); err != nil {
		t.Fatalf("hello: %v", err)
	}
	var e protocol.ErrorMsg
	readFrame(t, conn, &e)
	if e.Type != protocol.TypeError || e.Code != protocol.ErrProtoVersion {
		t.Fatalf("error frame: %+v", e)
	}
}
