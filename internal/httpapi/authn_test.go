package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"pricetrail.io/internal/stream"
)

func TestExtractBearerToken(t *testing.T) {
	cases := []struct {
		header  string
		want    string
		wantErr bool
	}{
		{"Bearer abc", "abc", false},
		{"bearer  abc ", "abc", false},
		{"", "", true},
		{"Basic abc", "", true},
		{"Bearer ", "", true},
	}
	for _, tc := range cases {
		got, err := extractBearerToken(tc.header)
		if (err != nil) != tc.wantErr {
			t.Fatalf("%q: unexpected error %v", tc.header, err)
		}
		if got != tc.want {
			t.Fatalf("%q: expected %q, got %q", tc.header, tc.want, got)
		}
	}
}

func TestWithAuthRejectsGarbageToken(t *testing.T) {
	c := newTestAPI(t)
	resp := c.do(http.MethodGet, "/v1/dashboard", nil, "not-a-jwt")
	expectStatus(t, resp, http.StatusUnauthorized)
	body := decode[map[string]any](t, resp)
	if body["error"] != "invalid token" {
		t.Fatalf("unexpected error %v", body["error"])
	}
}

func TestQueryTokenOnlyForStreams(t *testing.T) {
	c := newTestAPI(t)
	token, _ := c.signUp("erin")

	resp := c.do(http.MethodGet, "/v1/dashboard?access_token="+token, nil, "")
	expectStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()
}

// readEvent returns the next data payload from an SSE body.
func readEvent(t *testing.T, r *bufio.Reader) stream.Event {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		if payload, ok := strings.CutPrefix(strings.TrimSpace(line), "data: "); ok {
			var evt stream.Event
			if err := json.Unmarshal([]byte(payload), &evt); err != nil {
				t.Fatalf("decode event: %v", err)
			}
			return evt
		}
	}
}

func openStream(t *testing.T, c *apiClient, path string) (*bufio.Reader, func()) {
	t.Helper()
	before := c.hub.Subscribers()
	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	expectStatus(t, resp, http.StatusOK)
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}
	deadline := time.Now().Add(2 * time.Second)
	for c.hub.Subscribers() <= before {
		if time.Now().After(deadline) {
			t.Fatal("stream did not subscribe")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return bufio.NewReader(resp.Body), func() {
		cancel()
		resp.Body.Close()
	}
}

func TestChangesStream(t *testing.T) {
	c := newTestAPI(t)
	token, identity := c.signUp("admin")
	c.grant(identity, allFlags)

	body, closeStream := openStream(t, c, "/v1/changes?topics=product&access_token="+token)
	defer closeStream()

	resp := c.do(http.MethodPost, "/v1/products", map[string]any{
		"code": "P7", "description": "Bolt", "unit": "pc",
	}, token)
	expectStatus(t, resp, http.StatusCreated)
	resp.Body.Close()

	evt := readEvent(t, body)
	if evt.Topic != stream.TopicProduct || evt.Op != stream.OpInsert || evt.Key != "P7" {
		t.Fatalf("unexpected event %+v", evt)
	}
}

func TestChangesStreamRejectsUnknownTopic(t *testing.T) {
	c := newTestAPI(t)
	token, _ := c.signUp("frank")
	resp := c.do(http.MethodGet, "/v1/changes?topics=accounts", nil, token)
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()
}

func TestAuthEventsOnlyForCaller(t *testing.T) {
	c := newTestAPI(t)
	token, identity := c.signUp("gina")
	otherToken, _ := c.signUp("hank")

	body, closeStream := openStream(t, c, "/v1/auth/events?access_token="+token)
	defer closeStream()

	resp := c.do(http.MethodPatch, "/v1/auth/me", map[string]any{"name": "Hank H"}, otherToken)
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = c.do(http.MethodPatch, "/v1/auth/me", map[string]any{"name": "Gina G"}, token)
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	evt := readEvent(t, body)
	if evt.Topic != stream.TopicAuth || evt.Subject != identity.ID || evt.Op != "USER_UPDATED" {
		t.Fatalf("unexpected event %+v", evt)
	}
}
