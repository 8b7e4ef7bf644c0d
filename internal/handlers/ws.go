package handlers

import (
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"stemsplitter/internal/models"
)

// wsClient serializes writes to one connection. gorilla/websocket allows
// only a single concurrent writer, and the snapshot write in jobWS can
// overlap with executor broadcasts.
type wsClient struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsClient) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

// jobWS subscribes the client to a job's progress events. The current
// snapshot is sent on connect so late subscribers are not left waiting for
// the next update.
func (a *App) jobWS(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	job, err := a.registry.Get(jobID)
	if err != nil {
		a.respondError(w, http.StatusNotFound, "job not found")
		return
	}

	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	client := &wsClient{conn: conn}

	a.mu.Lock()
	if a.subs[jobID] == nil {
		a.subs[jobID] = make(map[*wsClient]struct{})
	}
	a.subs[jobID][client] = struct{}{}
	a.mu.Unlock()

	_ = client.writeJSON(a.eventFromJob(job, ""))

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	a.mu.Lock()
	delete(a.subs[jobID], client)
	a.mu.Unlock()
	_ = conn.Close()
}

// broadcastJob is the executor's notify hook: every registry update is
// fanned out to that job's subscribers.
func (a *App) broadcastJob(job *models.Job, message string) {
	evt := a.eventFromJob(job, message)

	a.mu.RLock()
	clients := make([]*wsClient, 0, len(a.subs[job.ID]))
	for c := range a.subs[job.ID] {
		clients = append(clients, c)
	}
	a.mu.RUnlock()

	for _, c := range clients {
		if err := c.writeJSON(evt); err != nil {
			a.mu.Lock()
			delete(a.subs[job.ID], c)
			a.mu.Unlock()
			_ = c.conn.Close()
		}
	}
}

func (a *App) eventFromJob(job *models.Job, message string) models.ProgressEvent {
	evt := models.ProgressEvent{
		ID:       job.ID,
		Status:   job.Status,
		Stage:    job.CurrentStage,
		Progress: job.Progress,
		Message:  message,
		Error:    job.Error,
	}
	if job.Status == models.StatusCompleted {
		evt.DownloadURL = "/jobs/" + job.ID + "/download"
		evt.StreamURL = "/jobs/" + job.ID + "/stream"
	}
	return evt
}
