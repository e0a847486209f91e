package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/example/rideshare/internal/models"
)

// FCMDispatcher posts JSON to FCM HTTPv1 endpoint using an oauth token. Each
// user is addressed through the topic "user_<id>" the app subscribes to.
type FCMDispatcher struct {
	Endpoint string
	Key      string
	Client   *http.Client
}

func NewFCMDispatcher(endpoint, key string) *FCMDispatcher {
	return &FCMDispatcher{Endpoint: endpoint, Key: key, Client: &http.Client{Timeout: 3 * time.Second}}
}

func (f *FCMDispatcher) Notify(ctx context.Context, ev models.Event, to models.Audience) error {
	// FCM data payload values must be strings
	data := map[string]string{
		"type":       ev.Type,
		"ride_id":    ev.RideID,
		"booking_id": ev.BookingID,
		"status":     ev.Status,
	}
	for _, id := range to.UserIDs {
		body := map[string]interface{}{"message": map[string]interface{}{"topic": "user_" + id, "data": data}}
		b, _ := json.Marshal(body)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.Endpoint, bytes.NewReader(b))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		if f.Key != "" {
			req.Header.Set("Authorization", "Bearer "+f.Key)
		}
		resp, err := f.Client.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode >= 300 {
			return fmt.Errorf("fcm returned %d for user %s", resp.StatusCode, id)
		}
	}
	return nil
}
