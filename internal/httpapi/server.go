package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/hexplatoon/rivalist-go/internal/battle"
	"github.com/hexplatoon/rivalist-go/internal/challenge"
	"github.com/hexplatoon/rivalist-go/internal/obslog"
	"github.com/hexplatoon/rivalist-go/internal/store"
	"github.com/hexplatoon/rivalist-go/internal/presenter"
	"github.com/hexplatoon/rivalist-go/pkg/battledto"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

const identityHeader = "X-Username"

// Server exposes the challenge and battle operations over HTTP and holds the
// websocket hub used as a notification sink.
type Server struct {
	e          *echo.Echo
	challenges *challenge.Manager
	battles    *battle.Registry
	hub        *Hub
	adminToken string
}

func NewServer(challenges *challenge.Manager, battles *battle.Registry, hub *Hub, adminToken string) *Server {
	s := &Server{
		e:          echo.New(),
		challenges: challenges,
		battles:    battles,
		hub:        hub,
		adminToken: adminToken,
	}
	s.e.HideBanner = true
	s.e.HidePort = true
	s.e.Use(middleware.Recover())
	s.e.Use(requestLogger())
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.e.Group("/api")

	api.POST("/challenges", s.createChallenge)
	api.GET("/challenges/:id", s.getChallenge)
	api.POST("/challenges/:id/accept", s.acceptChallenge)
	api.POST("/challenges/:id/decline", s.declineChallenge)
	api.POST("/challenges/:id/cancel", s.cancelChallenge)
	api.GET("/challenges/pending/received", s.listReceived)
	api.GET("/challenges/pending/sent", s.listSent)

	api.GET("/battles/:id", s.getBattle)
	api.POST("/battles/:id/ready", s.signalReady)
	api.POST("/battles/:id/progress", s.recordProgress)
	api.POST("/battles/:id/force-end", s.forceEnd)

	s.e.GET("/ws", s.hub.Handler)
	s.e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
}

// Start blocks serving HTTP until Shutdown is called.
func (s *Server) Start(addr string) error {
	obslog.L().Info("http_listen", zap.String("addr", addr))
	err := s.e.Start(addr)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.e.Shutdown(ctx)
}

type createChallengeRequest struct {
	Recipient string `json:"recipient"`
	Category  string `json:"category"`
}

func (s *Server) createChallenge(c echo.Context) error {
	actor, err := identity(c)
	if err != nil {
		return err
	}
	var req createChallengeRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid request body")
	}
	ch, err := s.challenges.Create(c.Request().Context(), actor, strings.TrimSpace(req.Recipient), strings.TrimSpace(req.Category))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusCreated, presenter.ChallengeView(ch, time.Now()))
}

func (s *Server) getChallenge(c echo.Context) error {
	if _, err := identity(c); err != nil {
		return err
	}
	ch, err := s.challenges.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, presenter.ChallengeView(ch, time.Now()))
}

func (s *Server) acceptChallenge(c echo.Context) error {
	return s.challengeAction(c, s.challenges.Accept)
}

func (s *Server) declineChallenge(c echo.Context) error {
	return s.challengeAction(c, s.challenges.Decline)
}

func (s *Server) cancelChallenge(c echo.Context) error {
	return s.challengeAction(c, s.challenges.Cancel)
}

func (s *Server) challengeAction(c echo.Context, fn func(ctx context.Context, actor, id string) (*store.Challenge, error)) error {
	actor, err := identity(c)
	if err != nil {
		return err
	}
	ch, err := fn(c.Request().Context(), actor, c.Param("id"))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, presenter.ChallengeView(ch, time.Now()))
}

func (s *Server) listReceived(c echo.Context) error {
	return s.listPending(c, s.challenges.ListPendingReceivedBy)
}

func (s *Server) listSent(c echo.Context) error {
	return s.listPending(c, s.challenges.ListPendingSentBy)
}

func (s *Server) listPending(c echo.Context, fn func(ctx context.Context, username string) ([]*store.Challenge, error)) error {
	actor, err := identity(c)
	if err != nil {
		return err
	}
	chs, err := fn(c.Request().Context(), actor)
	if err != nil {
		return mapError(err)
	}
	now := time.Now()
	views := make([]*battledto.ChallengeView, 0, len(chs))
	for _, ch := range chs {
		views = append(views, presenter.ChallengeView(ch, now))
	}
	return c.JSON(http.StatusOK, views)
}

func (s *Server) getBattle(c echo.Context) error {
	if _, err := identity(c); err != nil {
		return err
	}
	rec, err := s.battles.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, presenter.BattleView(rec))
}

func (s *Server) signalReady(c echo.Context) error {
	actor, err := identity(c)
	if err != nil {
		return err
	}
	rec, err := s.battles.SignalReady(c.Request().Context(), actor, c.Param("id"))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, presenter.BattleView(rec))
}

type progressRequest struct {
	Text  string `json:"text"`
	Final bool   `json:"final"`
}

func (s *Server) recordProgress(c echo.Context) error {
	actor, err := identity(c)
	if err != nil {
		return err
	}
	var req progressRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid request body")
	}
	if err := s.battles.RecordProgress(c.Request().Context(), actor, c.Param("id"), req.Text, req.Final); err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "recorded"})
}

func (s *Server) forceEnd(c echo.Context) error {
	if s.adminToken == "" || c.Request().Header.Get("X-Admin-Token") != s.adminToken {
		return echo.NewHTTPError(http.StatusForbidden, "admin token required")
	}
	rec, err := s.battles.End(c.Request().Context(), c.Param("id"), battle.EndForced)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, presenter.BattleView(rec))
}

func identity(c echo.Context) (string, error) {
	username := strings.TrimSpace(c.Request().Header.Get(identityHeader))
	if username == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, identityHeader+" header required")
	}
	return username, nil
}

func badRequest(msg string) error {
	return echo.NewHTTPError(http.StatusBadRequest, msg)
}

// mapError translates domain sentinels to HTTP statuses. Anything unmatched
// is a 500 with the detail kept in the logs only.
func mapError(err error) error {
	switch {
	case errors.Is(err, challenge.ErrNotFound), errors.Is(err, battle.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, challenge.ErrForbidden), errors.Is(err, battle.ErrForbidden), errors.Is(err, challenge.ErrNotFriends):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, challenge.ErrSelfChallenge), errors.Is(err, challenge.ErrUnknownCategory), errors.Is(err, battle.ErrSelfBattle):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, challenge.ErrDuplicatePending), errors.Is(err, challenge.ErrInvalidState), errors.Is(err, battle.ErrInvalidState):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, challenge.ErrExpired):
		return echo.NewHTTPError(http.StatusGone, err.Error())
	default:
		obslog.L().Error("http_internal_error", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}

func requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			obslog.L().Debug("http_request",
				zap.String("method", c.Request().Method),
				zap.String("path", c.Request().URL.Path),
				zap.Int("status", c.Response().Status),
				zap.Duration("elapsed", time.Since(start)),
			)
			return err
		}
	}
}
