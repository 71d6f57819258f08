package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"
)

type streamEvent struct {
	name string
	data string
}

func readStreamEvents(t *testing.T, reader *bufio.Reader) <-chan streamEvent {
	t.Helper()
	events := make(chan streamEvent, 16)
	go func() {
		defer close(events)
		current := streamEvent{}
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				return
			}
			line = strings.TrimSpace(line)
			switch {
			case line == "":
				if current.name != "" {
					events <- current
				}
				current = streamEvent{}
			case strings.HasPrefix(line, "event:"):
				current.name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "data:"):
				current.data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			}
		}
	}()
	return events
}

func awaitStreamEvent(t *testing.T, events <-chan streamEvent, name string) streamEvent {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", name)
		case event, ok := <-events:
			if !ok {
				t.Fatalf("stream closed before %s event", name)
			}
			if event.name == name {
				return event
			}
		}
	}
}

func TestEventStreamDeliversSignatureRequests(t *testing.T) {
	fixture := newServerFixture(t)
	token := fixture.mustToken(t, "user-jean", "Jean Dupont")

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, fixture.server.URL+"/events", http.NoBody)
	if err != nil {
		t.Fatalf("failed to construct stream request: %v", err)
	}
	request.Header.Set("Authorization", "Bearer "+token)
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		t.Fatalf("failed to open stream: %v", err)
	}
	t.Cleanup(func() {
		_ = response.Body.Close()
	})
	expectStatus(t, response, http.StatusOK)
	if !strings.HasPrefix(response.Header.Get("Content-Type"), "text/event-stream") {
		t.Fatalf("unexpected content type %s", response.Header.Get("Content-Type"))
	}

	events := readStreamEvents(t, bufio.NewReader(response.Body))
	awaitStreamEvent(t, events, realtimeEventHeartbeat)

	document := fixture.mustCreateDocument(t, token, "Loop diagram")
	appended := fixture.appendRevision(t, token, document.DocumentID, map[string]string{
		"revision": "0", "redacteur": "jean dupont",
	}, "", nil)
	expectStatus(t, appended, http.StatusCreated)

	event := awaitStreamEvent(t, events, RealtimeEventSignatureRequested)
	var payload realtimeEventPayload
	if err := json.Unmarshal([]byte(event.data), &payload); err != nil {
		t.Fatalf("failed to decode event payload: %v", err)
	}
	if payload.DocNumber != "HT001-INS-0001" || payload.Revision != "0" || payload.Role != "REDACTEUR" {
		t.Fatalf("unexpected event payload %#v", payload)
	}
	if payload.ActorName != "Jean Dupont" {
		t.Fatalf("unexpected actor %q", payload.ActorName)
	}
}
