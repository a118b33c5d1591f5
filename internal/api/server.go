package api

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Module registers its routes on the router.
type Module interface {
	Setup(r *gin.Engine)
}

type Server struct {
	router *gin.Engine
}

// New builds the router with CORS, health and metrics routes plus the given
// modules. Debug mode enables gin's request logging.
func New(debug bool, modules ...Module) *Server {
	if debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	if debug {
		r.Use(gin.Logger())
	}

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type"}
	r.Use(cors.New(corsConfig))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "stagesync"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	for _, m := range modules {
		m.Setup(r)
	}

	return &Server{router: r}
}

func (s *Server) Handler() http.Handler {
	return s.router
}
