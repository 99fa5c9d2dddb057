package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"pricetrail.io/internal/stream"
)

const keepAliveInterval = 25 * time.Second

var changeTopics = map[string]stream.Topic{
	string(stream.TopicProduct):   stream.TopicProduct,
	string(stream.TopicPriceHist): stream.TopicPriceHist,
	string(stream.TopicAudit):     stream.TopicAudit,
}

// handleChanges streams table change notifications. ?topics=product,pricehist
// narrows the subscription; no topics means all table topics.
func (a *API) handleChanges(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if _, ok := a.identity(w, r); !ok {
		return
	}

	var topics []stream.Topic
	if raw := strings.TrimSpace(r.URL.Query().Get("topics")); raw != "" {
		for _, name := range strings.Split(raw, ",") {
			t, ok := changeTopics[strings.TrimSpace(name)]
			if !ok {
				writeError(w, r, http.StatusBadRequest, fmt.Sprintf("unknown topic %q", name))
				return
			}
			topics = append(topics, t)
		}
	} else {
		topics = []stream.Topic{stream.TopicProduct, stream.TopicPriceHist, stream.TopicAudit}
	}
	a.serveEvents(w, r, topics, nil)
}

// serveEvents writes hub events as Server-Sent Events until the client
// goes away. keep, when set, filters events before they are written.
func (a *API) serveEvents(w http.ResponseWriter, r *http.Request, topics []stream.Topic, keep func(stream.Event) bool) {
	if a.svc.Changes == nil {
		writeError(w, r, http.StatusServiceUnavailable, "streaming disabled")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	ch := a.svc.Changes.Subscribe(ctx, topics...)

	_, _ = w.Write([]byte(": stream started\n\n"))
	flusher.Flush()

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.Write([]byte(": ping\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case evt, open := <-ch:
			if !open {
				return
			}
			if keep != nil && !keep(evt) {
				continue
			}
			payload, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Topic, payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
