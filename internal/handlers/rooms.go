package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/consult-signaling/internal/models"
	"github.com/mossy-p/consult-signaling/internal/records"
	"github.com/rs/zerolog/log"
)

// RoomReader is the part of the registry the rooms API needs.
type RoomReader interface {
	Rooms(ctx context.Context) ([]string, error)
	Snapshot(ctx context.Context, roomID string) (models.RoomSnapshot, error)
}

// RecordFetcher loads the patient bundle of a room.
type RecordFetcher interface {
	Fetch(ctx context.Context, roomID string) records.Bundle
}

// ListRooms returns the ids of the rooms that currently have members.
func ListRooms(rooms RoomReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		ids, err := rooms.Rooms(c.Request.Context())
		if err != nil {
			log.Error().Err(err).Msg("Failed to list rooms")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list rooms"})
			return
		}
		if ids == nil {
			ids = []string{}
		}
		c.JSON(http.StatusOK, gin.H{"rooms": ids})
	}
}

// GetRoom returns the live members of a room with roles (public).
// An unknown room is reported as an empty member list.
func GetRoom(rooms RoomReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		roomID := c.Param("roomId")
		if roomID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "roomId is required"})
			return
		}

		snap, err := rooms.Snapshot(c.Request.Context(), roomID)
		if err != nil {
			log.Error().Err(err).Str("room_id", roomID).Msg("Failed to read room")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read room"})
			return
		}

		c.JSON(http.StatusOK, snap)
	}
}

// GetRecord returns the patient bundle of a room (requires JWT).
// Service failures still answer 200 with an error-state bundle.
func GetRecord(fetcher RecordFetcher) gin.HandlerFunc {
	return func(c *gin.Context) {
		roomID := c.Param("roomId")
		if roomID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "roomId is required"})
			return
		}

		c.JSON(http.StatusOK, fetcher.Fetch(c.Request.Context(), roomID))
	}
}
