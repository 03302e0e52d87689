// Package status serves a read-only JSON view of a running study.
package status

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/signalnine/hypertune/internal/search"
)

// Study is the part of search.Study the API reads.
type Study interface {
	Trials() []search.Trial
	Trial(number int) (search.Trial, bool)
	Best() (search.Trial, bool)
	Counts() search.Counts
}

// Info is static run metadata echoed by GET /api/study.
type Info struct {
	ProblemID   int    `json:"problem_id"`
	Evaluator   string `json:"evaluator"`
	Sampler     string `json:"sampler"`
	TrialBudget int    `json:"trial_budget"`
	Concurrency int    `json:"concurrency"`
}

type Server struct {
	Info    Info
	study   Study
	started time.Time
	srv     *http.Server
	ln      net.Listener
}

func New(study Study, info Info) *Server {
	return &Server{Info: info, study: study, started: time.Now()}
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	api := r.Group("/api")
	{
		api.GET("/study", s.getStudy)
		api.GET("/trials", s.listTrials)
		api.GET("/trials/:number", s.getTrial)
		api.GET("/best", s.getBest)
	}
	return r
}

// Start listens on addr and serves in the background. The bound address is
// available from Addr, which matters when addr asks for port 0.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	s.ln = ln
	s.srv = &http.Server{Handler: s.Router(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Warnf("status server: %v", err)
		}
	}()
	logrus.Infof("Status API on http://%s/api/study", ln.Addr())
	return nil
}

func (s *Server) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) getStudy(c *gin.Context) {
	resp := gin.H{
		"info":      s.Info,
		"counts":    s.study.Counts(),
		"elapsed_s": int(time.Since(s.started) / time.Second),
	}
	if best, ok := s.study.Best(); ok {
		resp["best"] = best
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) listTrials(c *gin.Context) {
	trials := s.study.Trials()
	if st := c.Query("state"); st != "" {
		filtered := trials[:0]
		for _, t := range trials {
			if string(t.State) == st {
				filtered = append(filtered, t)
			}
		}
		trials = filtered
	}
	c.JSON(http.StatusOK, gin.H{"trials": trials})
}

func (s *Server) getTrial(c *gin.Context) {
	n, err := strconv.Atoi(c.Param("number"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "trial number must be an integer"})
		return
	}
	t, ok := s.study.Trial(n)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("trial %d not found", n)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trial": t})
}

func (s *Server) getBest(c *gin.Context) {
	best, ok := s.study.Best()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": search.ErrNoTrials.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trial": best})
}
