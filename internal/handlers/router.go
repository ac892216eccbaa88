package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/consult-signaling/internal/middleware"
	"github.com/mossy-p/consult-signaling/internal/signaling"
)

// Deps are the services the HTTP API is wired to.
type Deps struct {
	AllowedOrigins []string
	JWTSecret      string
	Relay          *signaling.Relay
	Rooms          RoomReader
	Records        RecordFetcher
	Translator     Translator
}

// NewRouter builds the gin engine serving the API and the signaling socket.
func NewRouter(d Deps) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger())

	// Global CORS middleware (runs before routing)
	router.Use(OriginFilter(d.AllowedOrigins))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	apiGroup := router.Group("/api")
	{
		apiGroup.POST("/auth/login", Login(d.JWTSecret))

		apiGroup.GET("/rooms", ListRooms(d.Rooms))
		apiGroup.GET("/rooms/:roomId", GetRoom(d.Rooms))
		apiGroup.GET("/rooms/:roomId/record", middleware.JWTAuth(d.JWTSecret), GetRecord(d.Records))

		apiGroup.GET("/languages", Languages)
		apiGroup.POST("/translate", Translate(d.Translator))
		apiGroup.POST("/detect", Detect(d.Translator))
	}

	wsGroup := router.Group("/ws")
	{
		wsGroup.GET("/signal", HandleSignaling(d.Relay))
	}

	return router
}
