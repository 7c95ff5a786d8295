package redis

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/nikusha1446/real-time-leaderboard/internal/config"
	"github.com/nikusha1446/real-time-leaderboard/internal/domain"
	. "github.com/smartystreets/goconvey/convey"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRedisConfig(addr string) *config.RedisConfig {
	cfg := config.DefaultConfig().Redis
	cfg.Addr = addr
	cfg.MinIdleConns = 0
	cfg.DialTimeout = time.Second
	return &cfg
}

// connectedConn starts an in-memory Redis and returns a Ready Conn to it.
func connectedConn(t *testing.T) (*Conn, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	conn := NewConn(testRedisConfig(mr.Addr()), discardLogger())
	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("connecting: %v", err)
	}
	t.Cleanup(func() { _ = conn.Disconnect() })
	return conn, mr
}

func TestConnLifecycle(t *testing.T) {
	Convey("Given a new connection", t, func() {
		mr := miniredis.RunT(t)
		conn := NewConn(testRedisConfig(mr.Addr()), discardLogger())
		defer func() { _ = conn.Disconnect() }()

		Convey("Then it starts disconnected", func() {
			So(conn.State(), ShouldEqual, StateDisconnected)
			So(conn.IsReady(), ShouldBeFalse)

			_, err := conn.Handle()
			So(errors.Is(err, ErrNotReady), ShouldBeTrue)
			So(errors.Is(err, domain.ErrStoreUnavailable), ShouldBeTrue)
		})

		Convey("When connecting", func() {
			err := conn.Connect(context.Background())

			Convey("Then it becomes ready and hands out the client", func() {
				So(err, ShouldBeNil)
				So(conn.State(), ShouldEqual, StateReady)
				So(conn.IsReady(), ShouldBeTrue)

				client, err := conn.Handle()
				So(err, ShouldBeNil)
				So(client.Ping(context.Background()).Err(), ShouldBeNil)
			})

			Convey("Then connecting again is rejected", func() {
				err := conn.Connect(context.Background())
				So(errors.Is(err, ErrInvalidState), ShouldBeTrue)
				So(conn.IsReady(), ShouldBeTrue)
			})

			Convey("Then disconnecting is idempotent", func() {
				So(conn.Disconnect(), ShouldBeNil)
				So(conn.State(), ShouldEqual, StateDisconnected)
				So(conn.Disconnect(), ShouldBeNil)

				_, err := conn.Handle()
				So(errors.Is(err, ErrNotReady), ShouldBeTrue)
			})
		})
	})

	Convey("Given a server that is not reachable", t, func() {
		mr := miniredis.RunT(t)
		addr := mr.Addr()
		mr.Close()
		conn := NewConn(testRedisConfig(addr), discardLogger())
		defer func() { _ = conn.Disconnect() }()

		Convey("When connecting", func() {
			err := conn.Connect(context.Background())

			Convey("Then it fails and stays errored", func() {
				So(errors.Is(err, domain.ErrStoreUnavailable), ShouldBeTrue)
				So(conn.State(), ShouldEqual, StateErrored)
				So(conn.IsReady(), ShouldBeFalse)

				_, err := conn.Handle()
				So(errors.Is(err, ErrNotReady), ShouldBeTrue)
			})
		})
	})

	Convey("Given a ready connection whose server goes away", t, func() {
		conn, mr := connectedConn(t)
		mr.Close()

		Convey("When a command is issued", func() {
			client, err := conn.Handle()
			So(err, ShouldBeNil)
			err = client.Ping(context.Background()).Err()

			Convey("Then the connection is errored and not reopened", func() {
				So(err, ShouldNotBeNil)
				So(conn.State(), ShouldEqual, StateErrored)
				So(conn.IsReady(), ShouldBeFalse)
			})
		})
	})

	Convey("Given a ready connection", t, func() {
		conn, _ := connectedConn(t)

		Convey("When a command fails on the caller's deadline", func() {
			ctx, cancel := context.WithTimeout(context.Background(), -time.Second)
			defer cancel()
			client, _ := conn.Handle()
			err := client.Ping(ctx).Err()

			Convey("Then the connection stays ready", func() {
				So(err, ShouldNotBeNil)
				So(conn.IsReady(), ShouldBeTrue)
			})
		})

		Convey("When Redis answers with a reply error", func() {
			client, _ := conn.Handle()
			So(client.Set(context.Background(), "plain", "v", 0).Err(), ShouldBeNil)
			err := client.LPush(context.Background(), "plain", "x").Err()

			Convey("Then the connection stays ready", func() {
				So(err, ShouldNotBeNil)
				So(conn.IsReady(), ShouldBeTrue)
			})
		})
	})
}

func TestConnPoolContention(t *testing.T) {
	Convey("Given a ready connection with a single pooled connection", t, func() {
		mr := miniredis.RunT(t)
		cfg := testRedisConfig(mr.Addr())
		cfg.PoolSize = 1
		cfg.PoolTimeout = 200 * time.Millisecond
		conn := NewConn(cfg, discardLogger())
		So(conn.Connect(context.Background()), ShouldBeNil)
		defer func() { _ = conn.Disconnect() }()
		client, err := conn.Handle()
		So(err, ShouldBeNil)

		Convey("When a second command waits while the only connection is busy", func() {
			held := make(chan error, 1)
			go func() {
				held <- client.BLPop(context.Background(), time.Second, "empty").Err()
			}()
			time.Sleep(50 * time.Millisecond)
			err := client.Ping(context.Background()).Err()

			Convey("Then it fails without marking the connection errored", func() {
				So(err, ShouldNotBeNil)
				So(err.Error(), ShouldContainSubstring, "connection pool timeout")
				So(conn.State(), ShouldEqual, StateReady)

				<-held
				So(client.Ping(context.Background()).Err(), ShouldBeNil)
				So(conn.IsReady(), ShouldBeTrue)
			})
		})
	})
}

func TestIsTransportError(t *testing.T) {
	Convey("Local pool errors are not transport failures", t, func() {
		So(isTransportError(errors.New("redis: connection pool timeout")), ShouldBeFalse)
		So(isTransportError(errors.New("redis: connection pool exhausted")), ShouldBeFalse)
	})

	Convey("Broken connections are transport failures", t, func() {
		So(isTransportError(io.EOF), ShouldBeTrue)
		So(isTransportError(&net.OpError{Op: "dial", Err: errors.New("connection refused")}), ShouldBeTrue)
	})

	Convey("Replies and cancellation are not transport failures", t, func() {
		So(isTransportError(nil), ShouldBeFalse)
		So(isTransportError(context.Canceled), ShouldBeFalse)
	})
}

func TestStateString(t *testing.T) {
	Convey("States have readable names", t, func() {
		So(StateDisconnected.String(), ShouldEqual, "disconnected")
		So(StateConnecting.String(), ShouldEqual, "connecting")
		So(StateReady.String(), ShouldEqual, "ready")
		So(StateErrored.String(), ShouldEqual, "errored")
	})
}
