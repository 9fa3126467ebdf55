package api

import (
	"github.com/gin-gonic/gin"
)

// Handlers groups everything the router serves. History and WS are
// optional.
type Handlers struct {
	Session  *SessionHandler
	Dispatch *DispatchHandler
	History  *HistoryHandler
	WS       gin.HandlerFunc
}

// CORS lets the browser UI call the API from another origin.
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

func RegisterRoutes(r *gin.Engine, h Handlers) {
	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/status", h.Session.GetStatus)
		apiGroup.POST("/connect", h.Session.Connect)
		apiGroup.POST("/disconnect", h.Session.Disconnect)
		apiGroup.POST("/send-message", h.Session.SendMessage)

		apiGroup.POST("/dataset", h.Dispatch.UploadDataset)

		dispatchGroup := apiGroup.Group("/dispatch")
		{
			dispatchGroup.GET("", h.Dispatch.GetState)
			dispatchGroup.POST("/configure", h.Dispatch.Configure)
			dispatchGroup.POST("/preview", h.Dispatch.Preview)
			dispatchGroup.GET("/preview/:index", h.Dispatch.PreviewContact)
			dispatchGroup.POST("/start", h.Dispatch.Start)
			dispatchGroup.POST("/retry", h.Dispatch.Retry)
			dispatchGroup.POST("/cancel", h.Dispatch.Cancel)
		}

		if h.History != nil {
			apiGroup.GET("/runs", h.History.GetRuns)
			apiGroup.GET("/runs/:id", h.History.GetRun)
			apiGroup.GET("/messages", h.History.GetMessages)
		}
	}

	if h.WS != nil {
		r.GET("/ws", h.WS)
	}
}
