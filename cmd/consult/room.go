package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/mossy-p/consult-signaling/internal/models"
	"github.com/mossy-p/consult-signaling/internal/ui"
	"github.com/spf13/cobra"
)

const roomTimeout = 10 * time.Second

var roomCmd = &cobra.Command{
	Use:     "room <room>",
	Aliases: []string{"r"},
	Short:   "Show who is in a room",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := clientConfig()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), roomTimeout)
		defer cancel()

		snap, err := fetchRoom(ctx, http.DefaultClient, cfg.APIURL, args[0])
		if err != nil {
			return err
		}
		if len(snap.Members) == 0 {
			ui.PrintInfo("Room " + snap.ID + " is empty")
			return nil
		}
		ui.RenderRoom(os.Stdout, snap, time.Now())
		return nil
	},
}

func fetchRoom(ctx context.Context, client *http.Client, apiURL, roomID string) (models.RoomSnapshot, error) {
	endpoint := strings.TrimRight(apiURL, "/") + "/api/rooms/" + url.PathEscape(roomID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return models.RoomSnapshot{}, err
	}

	resp, err := client.Do(req)
	if err != nil {
		return models.RoomSnapshot{}, fmt.Errorf("fetch room: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.RoomSnapshot{}, fmt.Errorf("fetch room: unexpected status %s", resp.Status)
	}

	var snap models.RoomSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return models.RoomSnapshot{}, fmt.Errorf("decode room: %w", err)
	}
	return snap, nil
}
