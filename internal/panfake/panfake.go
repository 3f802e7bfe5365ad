// Package panfake serves a storage.Storage over the pan REST wire protocol.
// It backs the SDK tests and the local development server.
package panfake

import (
	"log/slog"
	"net/http"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	slogGin "github.com/samber/slog-gin"

	"github.com/gobdpan/bdpan/internal/storage"
	"github.com/gobdpan/bdpan/internal/storage/memstore"
	"github.com/gobdpan/bdpan/internal/version"
)

const (
	XpanPrefix = "/rest/2.0/xpan"
	PcsPrefix  = "/rest/2.0/pcs"
)

type Option func(*Server)

// WithAccessToken rejects requests not carrying token. Empty accepts any token.
func WithAccessToken(token string) Option {
	return func(s *Server) {
		s.token = token
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithRequestLog enables the access log middleware
func WithRequestLog(enabled bool) Option {
	return func(s *Server) {
		s.requestLog = enabled
	}
}

type Server struct {
	store      storage.Storage
	token      string
	logger     *slog.Logger
	requestLog bool
	handler    http.Handler
}

// New serves store. A nil store is replaced with an empty memstore.
func New(store storage.Storage, opts ...Option) *Server {
	if store == nil {
		store = memstore.New()
	}
	s := &Server{
		store:  store,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.handler = s.routes()
	return s
}

func (s *Server) Store() storage.Storage {
	return s.store
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	r := gin.New()
	r.MaxMultipartMemory = 8 << 20 // 8 MiB

	if s.requestLog {
		r.Use(slogGin.NewWithConfig(s.logger.WithGroup("http"), slogGin.Config{
			DefaultLevel:     slog.LevelInfo,
			ClientErrorLevel: slog.LevelWarn,
			ServerErrorLevel: slog.LevelError,
			WithRequestID:    true,
		}))
	}
	r.Use(gin.Recovery())
	// downloads carry byte ranges and must keep their length
	r.Use(gzip.Gzip(gzip.BestSpeed, gzip.WithExcludedPaths([]string{PcsPrefix})))

	r.GET("/", func(ctx *gin.Context) {
		ctx.String(http.StatusOK, version.Detailed())
	})
	r.GET("/healthz", func(ctx *gin.Context) {
		ctx.PureJSON(http.StatusOK, gin.H{"status": "ok"})
	})

	xpan := r.Group(XpanPrefix, s.xpanAuth)
	{
		xpan.GET("/file", s.xpanFile)
		xpan.POST("/file", s.xpanFile)
	}

	pcs := r.Group(PcsPrefix, s.pcsAuth)
	{
		pcs.GET("/file", s.pcsFile)
		pcs.POST("/superfile2", s.superfile2)
	}

	r.NoRoute(func(ctx *gin.Context) {
		ctx.PureJSON(http.StatusNotFound, gin.H{"error_code": 31066, "error_msg": "not found"})
	})

	return r.Handler()
}

func (s *Server) xpanAuth(ctx *gin.Context) {
	if s.token != "" && ctx.Query("access_token") != s.token {
		abortXpan(ctx, errnoAuth, "access token invalid")
	}
}

func (s *Server) pcsAuth(ctx *gin.Context) {
	if s.token != "" && ctx.Query("access_token") != s.token {
		abortPcs(ctx, http.StatusUnauthorized, errnoTokenInvalid, "access token invalid")
	}
}

func init() {
	gin.SetMode(gin.ReleaseMode)
}
