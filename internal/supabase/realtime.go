package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"homeproject-backend/internal/models"
)

const StatusChangedEvent = "status_changed"

// RealtimeClient publishes broadcast messages through the Realtime REST API
// so subscribed clients see status changes without polling.
type RealtimeClient struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

func NewRealtimeClient(supabaseURL, apiKey string) *RealtimeClient {
	return &RealtimeClient{
		endpoint: strings.TrimRight(supabaseURL, "/") + "/realtime/v1/api/broadcast",
		apiKey:   apiKey,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type broadcastMessage struct {
	Topic   string      `json:"topic"`
	Event   string      `json:"event"`
	Payload interface{} `json:"payload"`
}

func (r *RealtimeClient) PublishEvent(ctx context.Context, topic, event string, payload interface{}) error {
	body, err := json.Marshal(map[string][]broadcastMessage{
		"messages": {{Topic: topic, Event: event, Payload: payload}},
	})
	if err != nil {
		return fmt.Errorf("failed to marshal broadcast: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", r.apiKey)
	req.Header.Set("Authorization", "Bearer "+r.apiKey)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send broadcast: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("broadcast failed with status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// PublishProjectStatus announces a project's new status on project:{id}.
func (r *RealtimeClient) PublishProjectStatus(ctx context.Context, p *models.Project) error {
	return r.PublishEvent(ctx, ProjectTopic(p.ID), StatusChangedEvent, StatusPayload(p))
}

func ProjectTopic(projectID uuid.UUID) string {
	return fmt.Sprintf("project:%s", projectID.String())
}

func StatusPayload(p *models.Project) map[string]interface{} {
	payload := map[string]interface{}{
		"project_id":     p.ID.String(),
		"status":         string(p.Status.Canonical()),
		"preview_status": string(p.PreviewStatus),
	}
	if p.PreviewURL.Valid {
		payload["preview_url"] = p.PreviewURL.String
	}
	return payload
}
