package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/nikusha1446/real-time-leaderboard/internal/config"
	"github.com/nikusha1446/real-time-leaderboard/internal/metrics"
	lbredis "github.com/nikusha1446/real-time-leaderboard/internal/redis"
	"github.com/nikusha1446/real-time-leaderboard/internal/service"
	"github.com/prometheus/client_golang/prometheus"
	. "github.com/smartystreets/goconvey/convey"
)

type testServer struct {
	router http.Handler
	conn   *lbredis.Conn
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	mr := miniredis.RunT(t)
	cfg := config.DefaultConfig()
	cfg.Redis.Addr = mr.Addr()
	cfg.Redis.MinIdleConns = 0
	conn := lbredis.NewConn(&cfg.Redis, logger)
	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("connecting: %v", err)
	}
	t.Cleanup(func() { _ = conn.Disconnect() })

	m := metrics.NewManager(metrics.WithRegistry(prometheus.NewRegistry()))
	svc := service.NewLeaderboardService(
		lbredis.NewScoreStore(conn, logger),
		lbredis.NewLedger(conn, logger),
		&cfg.Leaderboard,
		logger,
		service.WithMetrics(m),
	)
	return &testServer{
		router: NewHandler(svc, nil, m, logger).Router(),
		conn:   conn,
	}
}

func (s *testServer) do(method, path, body, userID, username string) (int, APIResponse) {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if userID != "" {
		req.Header.Set(HeaderUserID, userID)
	}
	if username != "" {
		req.Header.Set(HeaderUsername, username)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var resp APIResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	return rec.Code, resp
}

func (s *testServer) submit(userID, game string, score int) {
	code, _ := s.do(http.MethodPost, "/api/leaderboard/scores",
		`{"game":"`+game+`","score":`+itoa(score)+`}`, userID, "name-"+userID)
	So(code, ShouldEqual, http.StatusCreated)
}

func itoa(n int) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func dataMap(resp APIResponse) map[string]interface{} {
	m, _ := resp.Data.(map[string]interface{})
	return m
}

func TestSubmitScoreEndpoint(t *testing.T) {
	Convey("Given the leaderboard API", t, func() {
		s := newTestServer(t)

		Convey("When an identified user submits a valid score", func() {
			code, resp := s.do(http.MethodPost, "/api/leaderboard/scores",
				`{"game":"chess","score":1500}`, "u1", "alice")

			Convey("Then it is created and echoed", func() {
				So(code, ShouldEqual, http.StatusCreated)
				So(resp.Success, ShouldBeTrue)
				data := dataMap(resp)
				So(data["message"], ShouldEqual, "Score submitted successfully")
				So(data["game"], ShouldEqual, "chess")
				So(data["score"], ShouldEqual, float64(1500))
				So(data["username"], ShouldEqual, "alice")
			})
		})

		Convey("When the identity headers are missing", func() {
			code, resp := s.do(http.MethodPost, "/api/leaderboard/scores",
				`{"game":"chess","score":1}`, "", "")

			Convey("Then it is unauthorized", func() {
				So(code, ShouldEqual, http.StatusUnauthorized)
				So(resp.Success, ShouldBeFalse)
			})
		})

		Convey("When the body fails validation", func() {
			cases := []string{
				`{"game":"","score":1}`,
				`{"game":"bad game","score":1}`,
				`{"game":"` + strings.Repeat("a", 51) + `","score":1}`,
				`{"game":"chess","score":-5}`,
				`{"game":"chess"}`,
			}

			Convey("Then each one is rejected with details", func() {
				for _, body := range cases {
					code, resp := s.do(http.MethodPost, "/api/leaderboard/scores", body, "u1", "alice")
					So(code, ShouldEqual, http.StatusBadRequest)
					So(resp.Error, ShouldEqual, "Validation failed")
					So(resp.Details, ShouldNotBeEmpty)
				}
			})
		})

		Convey("When the score is above the exact float range", func() {
			code, resp := s.do(http.MethodPost, "/api/leaderboard/scores",
				`{"game":"chess","score":9007199254740993}`, "u1", "alice")

			Convey("Then it is rejected", func() {
				So(code, ShouldEqual, http.StatusBadRequest)
				So(resp.Details, ShouldHaveLength, 1)
				So(resp.Details[0].Message, ShouldEqual, "Score must be at most 9007199254740992")
			})
		})

		Convey("When the score is the largest exact value", func() {
			code, _ := s.do(http.MethodPost, "/api/leaderboard/scores",
				`{"game":"chess","score":9007199254740992}`, "u1", "alice")

			Convey("Then it is accepted", func() {
				So(code, ShouldEqual, http.StatusCreated)
			})
		})

		Convey("When the score is not an integer", func() {
			code, _ := s.do(http.MethodPost, "/api/leaderboard/scores",
				`{"game":"chess","score":1.5}`, "u1", "alice")

			Convey("Then it is a bad request", func() {
				So(code, ShouldEqual, http.StatusBadRequest)
			})
		})

		Convey("When the store is unavailable", func() {
			So(s.conn.Disconnect(), ShouldBeNil)
			code, resp := s.do(http.MethodPost, "/api/leaderboard/scores",
				`{"game":"chess","score":1}`, "u1", "alice")

			Convey("Then it answers 503", func() {
				So(code, ShouldEqual, http.StatusServiceUnavailable)
				So(resp.Success, ShouldBeFalse)
			})
		})
	})
}

func TestQueryEndpoints(t *testing.T) {
	Convey("Given a populated leaderboard", t, func() {
		s := newTestServer(t)
		s.submit("a", "chess", 100)
		s.submit("b", "chess", 300)
		s.submit("c", "go", 200)

		Convey("When the global leaderboard is requested", func() {
			code, resp := s.do(http.MethodGet, "/api/leaderboard", "", "", "")

			Convey("Then entries are ranked by score", func() {
				So(code, ShouldEqual, http.StatusOK)
				data := dataMap(resp)
				So(data["leaderboard"], ShouldEqual, "global")
				So(data["total"], ShouldEqual, float64(3))
				entries := data["entries"].([]interface{})
				So(entries, ShouldHaveLength, 3)
				first := entries[0].(map[string]interface{})
				So(first["userId"], ShouldEqual, "b")
				So(first["rank"], ShouldEqual, float64(1))
			})
		})

		Convey("When a limit is given", func() {
			code, resp := s.do(http.MethodGet, "/api/leaderboard?limit=1", "", "", "")

			Convey("Then it is honoured", func() {
				So(code, ShouldEqual, http.StatusOK)
				So(dataMap(resp)["entries"], ShouldHaveLength, 1)
			})
		})

		Convey("When the limit is not a number", func() {
			code, resp := s.do(http.MethodGet, "/api/leaderboard?limit=ten", "", "", "")

			Convey("Then it is rejected", func() {
				So(code, ShouldEqual, http.StatusBadRequest)
				So(resp.Details[0].Field, ShouldEqual, "limit")
			})
		})

		Convey("When a game leaderboard is requested", func() {
			code, resp := s.do(http.MethodGet, "/api/leaderboard/game/go", "", "", "")

			Convey("Then only that game is listed", func() {
				So(code, ShouldEqual, http.StatusOK)
				So(dataMap(resp)["leaderboard"], ShouldEqual, "game:go")
				So(dataMap(resp)["total"], ShouldEqual, float64(1))
			})
		})

		Convey("When a malformed game is requested", func() {
			code, _ := s.do(http.MethodGet, "/api/leaderboard/game/bad%20game", "", "", "")

			Convey("Then it is a bad request", func() {
				So(code, ShouldEqual, http.StatusBadRequest)
			})
		})

		Convey("When a user asks for their rank", func() {
			code, resp := s.do(http.MethodGet, "/api/leaderboard/rank", "", "a", "name-a")

			Convey("Then it is derived from the global index", func() {
				So(code, ShouldEqual, http.StatusOK)
				So(dataMap(resp)["rank"], ShouldEqual, float64(3))
				So(dataMap(resp)["score"], ShouldEqual, float64(100))
			})
		})

		Convey("When a user asks for their rank in a game", func() {
			code, resp := s.do(http.MethodGet, "/api/leaderboard/rank/game/chess", "", "a", "name-a")
			missing, _ := s.do(http.MethodGet, "/api/leaderboard/rank/game/go", "", "a", "name-a")

			Convey("Then it is derived from the game index", func() {
				So(code, ShouldEqual, http.StatusOK)
				So(dataMap(resp)["rank"], ShouldEqual, float64(2))
				So(missing, ShouldEqual, http.StatusNotFound)
			})
		})

		Convey("When a user without scores asks for their rank", func() {
			code, _ := s.do(http.MethodGet, "/api/leaderboard/rank", "", "ghost", "ghost")

			Convey("Then it is not found", func() {
				So(code, ShouldEqual, http.StatusNotFound)
			})
		})

		Convey("When a user asks for their history", func() {
			s.submit("a", "go", 50)
			code, resp := s.do(http.MethodGet, "/api/leaderboard/history", "", "a", "name-a")

			Convey("Then it is returned newest first", func() {
				So(code, ShouldEqual, http.StatusOK)
				records := resp.Data.([]interface{})
				So(records, ShouldHaveLength, 2)
				So(records[0].(map[string]interface{})["game"], ShouldEqual, "go")
				So(records[1].(map[string]interface{})["game"], ShouldEqual, "chess")
			})
		})

		Convey("When rank is requested without identity", func() {
			code, _ := s.do(http.MethodGet, "/api/leaderboard/rank", "", "", "")

			Convey("Then it is unauthorized", func() {
				So(code, ShouldEqual, http.StatusUnauthorized)
			})
		})
	})
}

func TestHealthEndpoints(t *testing.T) {
	Convey("Given the API with a ready store", t, func() {
		s := newTestServer(t)

		Convey("Then health and readiness succeed", func() {
			code, resp := s.do(http.MethodGet, "/health", "", "", "")
			So(code, ShouldEqual, http.StatusOK)
			So(dataMap(resp)["ready"], ShouldBeTrue)

			code, _ = s.do(http.MethodGet, "/ready", "", "", "")
			So(code, ShouldEqual, http.StatusOK)
		})

		Convey("When the store disconnects", func() {
			So(s.conn.Disconnect(), ShouldBeNil)

			Convey("Then health still answers but readiness fails", func() {
				code, resp := s.do(http.MethodGet, "/health", "", "", "")
				So(code, ShouldEqual, http.StatusOK)
				So(dataMap(resp)["ready"], ShouldBeFalse)
				So(dataMap(resp)["store"], ShouldEqual, "disconnected")

				code, _ = s.do(http.MethodGet, "/ready", "", "", "")
				So(code, ShouldEqual, http.StatusServiceUnavailable)
			})
		})

		Convey("When metrics are scraped", func() {
			s.do(http.MethodGet, "/api/leaderboard", "", "", "")
			req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
			rec := httptest.NewRecorder()
			s.router.ServeHTTP(rec, req)

			Convey("Then requests are reported by route pattern", func() {
				So(rec.Code, ShouldEqual, http.StatusOK)
				So(rec.Body.String(), ShouldContainSubstring, `route="/api/leaderboard`)
			})
		})
	})
}
