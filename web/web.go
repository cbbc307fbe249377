package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/rs/zerolog/log"

	"github.com/tuxbot-bot/tuxbot/bot/stats"
	"github.com/tuxbot-bot/tuxbot/config"
)

// Web is the bot's HTTP status surface. Plugins may mount sub-routers on it.
type Web struct {
	config        *config.Config
	router        *chi.Mux
	httpEndPoints []EndPoint
	stats         *stats.Stats
}

type EndPoint struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

func New(cfg *config.Config, s *stats.Stats) *Web {
	w := &Web{
		config: cfg,
		router: chi.NewRouter(),
		stats:  s,
	}
	w.setupHTTP()
	return w
}

func (ws *Web) setupHTTP() {
	reqCount := ws.config.GetInt(config.Core, "httprate_requests", 500)
	reqTime := time.Duration(ws.config.GetInt(config.Core, "httprate_seconds", 5))
	if reqCount > 0 && reqTime > 0 {
		ws.router.Use(httprate.LimitByIP(reqCount, reqTime*time.Second))
	}

	ws.router.Use(middleware.RequestID)
	ws.router.Use(middleware.Recoverer)
	ws.router.Use(middleware.StripSlashes)

	ws.router.HandleFunc("/", ws.serveRoot)
	ws.router.HandleFunc("/stats", ws.serveStats)
}

func (ws *Web) serveRoot(w http.ResponseWriter, r *http.Request) {
	ws.serveJSON(w, ws.httpEndPoints)
}

func (ws *Web) serveStats(w http.ResponseWriter, r *http.Request) {
	ws.serveJSON(w, ws.stats.Snapshot())
}

func (ws *Web) serveJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	if err := enc.Encode(v); err != nil {
		jsonErr, _ := json.Marshal(err)
		w.WriteHeader(500)
		w.Write(jsonErr)
	}
}

func (ws *Web) RegisterWeb(r http.Handler, root string) {
	ws.router.Mount(root, r)
}

func (ws *Web) RegisterWebName(r http.Handler, root, name string) {
	ws.httpEndPoints = append(ws.httpEndPoints, EndPoint{name, root})
	ws.router.Mount(root, r)
}

// Serve blocks on the listener until ctx is cancelled, then drains in-flight
// requests.
func (ws *Web) Serve(ctx context.Context, addr string) {
	srv := &http.Server{Addr: addr, Handler: ws.router}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			log.Error().Err(err).Msg("web shutdown")
		}
	}()
	log.Debug().Msgf("starting web service at %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("web service stopped")
	}
}
