package router

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

type pingRegistrar struct {
	path string
}

func (r *pingRegistrar) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET(r.path, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
}

func TestRouter_Setup(t *testing.T) {
	gin.SetMode(gin.TestMode)

	t.Run("registers routes under the default version prefix", func(t *testing.T) {
		engine := gin.New()
		r := NewRouter(engine)
		r.Register(&pingRegistrar{path: "/ping"})
		r.Setup()

		w := httptest.NewRecorder()
		engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/ping", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("honors a custom API version", func(t *testing.T) {
		engine := gin.New()
		r := NewRouter(engine, WithAPIVersion("v2"))
		r.Register(&pingRegistrar{path: "/ping"})
		r.Setup()

		w := httptest.NewRecorder()
		engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v2/ping", nil))
		assert.Equal(t, http.StatusOK, w.Code)

		w = httptest.NewRecorder()
		engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/ping", nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("registers multiple registrars", func(t *testing.T) {
		engine := gin.New()
		r := NewRouter(engine)
		r.Register(&pingRegistrar{path: "/first"}).Register(&pingRegistrar{path: "/second"})
		r.Setup()

		for _, path := range []string{"/api/v1/first", "/api/v1/second"} {
			w := httptest.NewRecorder()
			engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
			assert.Equal(t, http.StatusOK, w.Code, path)
		}
	})
}
