package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"stemsplitter/internal/models"
)

func TestJobWSStreamsProgressEvents(t *testing.T) {
	sep := &fakeSeparator{started: make(chan struct{}), release: make(chan struct{})}
	ta := newTestApp(t, 1, &fakeDownloader{}, sep)
	srv := httptest.NewServer(ta.app.Router())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/jobs/youtube", "application/json",
		strings.NewReader(`{"url":"https://youtube.com/watch?v=abc"}`))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	var job models.Job
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		t.Fatalf("decode job: %v", err)
	}
	resp.Body.Close()

	<-sep.started
	ta.waitForStatus(t, job.ID, models.StatusSeparating)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/" + job.ID
	conn, dialResp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if dialResp != nil {
		dialResp.Body.Close()
	}
	defer conn.Close()

	// The current snapshot arrives first.
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var evt models.ProgressEvent
	if err := conn.ReadJSON(&evt); err != nil {
		t.Fatalf("read snapshot event: %v", err)
	}
	if evt.ID != job.ID {
		t.Errorf("event id = %s, want %s", evt.ID, job.ID)
	}
	if evt.Status != models.StatusSeparating {
		t.Errorf("snapshot status = %s, want separating", evt.Status)
	}

	close(sep.release)

	for {
		conn.SetReadDeadline(time.Now().Add(3 * time.Second))
		if err := conn.ReadJSON(&evt); err != nil {
			t.Fatalf("read progress event: %v", err)
		}
		if evt.Status == models.StatusCompleted {
			break
		}
	}
	if evt.Progress != 100 {
		t.Errorf("completed progress = %d, want 100", evt.Progress)
	}
	if evt.DownloadURL == "" || evt.StreamURL == "" {
		t.Error("completed event missing artifact URLs")
	}
}

// Broadcasts from the executor must not interleave with the snapshot
// write that happens while a client is still connecting; gorilla allows
// only one writer per connection.
func TestJobWSSubscribeDuringBroadcasts(t *testing.T) {
	ta := newTestApp(t, 1, &fakeDownloader{}, &fakeSeparator{})
	srv := httptest.NewServer(ta.app.Router())
	defer srv.Close()

	job := ta.registry.Create(models.SourceURL, "https://youtube.com/watch?v=abc")
	snapshot, _ := ta.registry.Get(job.ID)

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			default:
				ta.app.broadcastJob(snapshot, "tick")
			}
		}
	}()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/" + job.ID
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
			if err != nil {
				t.Errorf("dial: %v", err)
				return
			}
			if resp != nil {
				resp.Body.Close()
			}
			defer conn.Close()

			// Every received frame must be a well-formed event for
			// this job; interleaved writes would corrupt frames.
			for j := 0; j < 3; j++ {
				conn.SetReadDeadline(time.Now().Add(3 * time.Second))
				var evt models.ProgressEvent
				if err := conn.ReadJSON(&evt); err != nil {
					t.Errorf("read event: %v", err)
					return
				}
				if evt.ID != job.ID {
					t.Errorf("event id = %q, want %q", evt.ID, job.ID)
					return
				}
			}
		}()
	}
	wg.Wait()
	close(stop)
	<-done
}

func TestJobWSUnknownJob(t *testing.T) {
	ta := newTestApp(t, 1, &fakeDownloader{}, &fakeSeparator{})
	srv := httptest.NewServer(ta.app.Router())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/missing"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		conn.Close()
		t.Fatal("dial succeeded for unknown job")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Errorf("handshake response = %v, want 404", resp)
	}
	if resp != nil {
		resp.Body.Close()
	}
}
