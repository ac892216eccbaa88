// Package records fetches patient bundles from the external ticket service.
package records

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Bundle is the patient record attached to a room. Its parts are opaque to
// the signaling layer. Error is set when the service could not be reached.
type Bundle struct {
	RoomID        string            `json:"roomId"`
	Patient       json.RawMessage   `json:"patient,omitempty"`
	Summaries     []json.RawMessage `json:"summaries"`
	Prescriptions []json.RawMessage `json:"prescriptions"`
	Error         string            `json:"error,omitempty"`
}

type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// Fetch loads GET {base}/tickets/{roomId}. It never fails: on any error the
// returned bundle is empty with Error set.
func (c *Client) Fetch(ctx context.Context, roomID string) Bundle {
	bundle, err := c.fetch(ctx, roomID)
	if err != nil {
		log.Warn().Err(err).Str("room_id", roomID).Msg("Patient record unavailable")
		return Bundle{
			RoomID:        roomID,
			Summaries:     []json.RawMessage{},
			Prescriptions: []json.RawMessage{},
			Error:         "patient record unavailable",
		}
	}
	return bundle
}

func (c *Client) fetch(ctx context.Context, roomID string) (Bundle, error) {
	endpoint := c.baseURL + "/tickets/" + url.PathEscape(roomID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Bundle{}, err
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return Bundle{}, err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return Bundle{}, fmt.Errorf("ticket service returned %d", res.StatusCode)
	}

	var bundle Bundle
	if err := json.NewDecoder(res.Body).Decode(&bundle); err != nil {
		return Bundle{}, fmt.Errorf("decode ticket: %w", err)
	}

	bundle.RoomID = roomID
	bundle.Summaries = dedupeByID(bundle.Summaries)
	if bundle.Prescriptions == nil {
		bundle.Prescriptions = []json.RawMessage{}
	}
	bundle.Error = ""
	return bundle, nil
}

// dedupeByID keeps the first summary for every id. Summaries without an id
// are kept as they are.
func dedupeByID(items []json.RawMessage) []json.RawMessage {
	out := make([]json.RawMessage, 0, len(items))
	seen := make(map[string]bool, len(items))

	for _, item := range items {
		var key struct {
			ID json.RawMessage `json:"id"`
		}
		if err := json.Unmarshal(item, &key); err != nil || len(key.ID) == 0 || string(key.ID) == "null" {
			out = append(out, item)
			continue
		}

		id := string(key.ID)
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, item)
	}
	return out
}
