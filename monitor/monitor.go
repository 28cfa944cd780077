// Package monitor serves the live logger status over HTTP and websocket.
package monitor

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/w1xm/drive_logger/datalogger"
)

type Source interface {
	Status() datalogger.Status
}

type Server struct {
	source   Source
	interval time.Duration
}

func NewServer(source Source, interval time.Duration) *Server {
	if interval <= 0 {
		interval = time.Second
	}
	return &Server{source: source, interval: interval}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Handle("/api/status", http.HandlerFunc(s.StatusHandler)).Methods(http.MethodGet)
	r.Handle("/api/ws", http.HandlerFunc(s.StatusSocketHandler))
	return r
}

func (s *Server) StatusHandler(w http.ResponseWriter, r *http.Request) {
	data, err := json.Marshal(s.source.Status())
	if err != nil {
		log.Print(err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

// StatusSocketHandler pushes the status every interval until the client
// goes away.
func (s *Server) StatusSocketHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println(err)
		return
	}
	defer conn.Close()

	// Drain incoming frames so close and ping are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if err := conn.WriteJSON(s.source.Status()); err != nil {
			log.Printf("status socket %v: %v", r.RemoteAddr, err)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ListenAndServe serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Handler:      s.Handler(),
		Addr:         addr,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	go func() {
		<-ctx.Done()
		log.Print("shutdown; closing monitor server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	log.Printf("monitor listening on %v", srv.Addr)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}
