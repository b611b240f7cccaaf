package ws

import (
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/gobwas/ws/wsutil"
)

// readReply reads one server frame from the client side of the pipe.
func readReply(t *testing.T, client net.Conn) map[string]interface{} {
	t.Helper()
	type result struct {
		msg map[string]interface{}
		err error
	}
	ch := make(chan result, 1)
	go func() {
		data, _, err := wsutil.ReadServerData(client)
		if err != nil {
			ch <- result{err: err}
			return
		}
		var msg map[string]interface{}
		ch <- result{msg: msg, err: json.Unmarshal(data, &msg)}
	}()
	select {
	case r := <-ch:
		if r.err != nil {
			t.Fatalf("read reply: %v", r.err)
		}
		return r.msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for reply")
		return nil
	}
}

func TestDispatcher_PingPong(t *testing.T) {
	conn, client := newTestConnection()
	defer conn.Close()
	defer client.Close()

	d := NewMessageDispatcher()
	go d.Dispatch(conn, []byte(`{"type":"ping"}`))

	reply := readReply(t, client)
	if reply["type"] != "pong" {
		t.Fatalf("reply type = %v, want pong", reply["type"])
	}
}

func TestDispatcher_RoutesToHandler(t *testing.T) {
	conn, client := newTestConnection()
	defer conn.Close()
	defer client.Close()

	d := NewMessageDispatcher()
	handled := make(chan string, 1)
	d.Register("join_chat", func(c *Connection, msg interface{}) {
		handled <- c.ID
	})

	d.Dispatch(conn, []byte(`{"type":"join_chat","match_id":"m1"}`))

	select {
	case id := <-handled:
		if id != conn.ID {
			t.Errorf("handler saw conn %s, want %s", id, conn.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("handler was not invoked")
	}
}

func TestDispatcher_UnsupportedType(t *testing.T) {
	conn, client := newTestConnection()
	defer conn.Close()
	defer client.Close()

	d := NewMessageDispatcher()
	go d.Dispatch(conn, []byte(`{"type":"warp_drive"}`))

	reply := readReply(t, client)
	if reply["type"] != "error" {
		t.Fatalf("reply type = %v, want error", reply["type"])
	}
	if reply["code"] != "unsupported_type" {
		t.Errorf("code = %v, want unsupported_type", reply["code"])
	}
}
