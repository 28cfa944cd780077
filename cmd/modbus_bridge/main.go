package main

import (
	"encoding/json"
	"io/ioutil"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/goburrow/modbus"
	"github.com/gorilla/mux"
	"github.com/jessevdk/go-flags"

	"github.com/w1xm/drive_logger/internal/modbus/modbushttp"
)

type Options struct {
	Addr     string `long:"addr" default:"127.0.0.1:8502" description:"address to listen on"`
	Password string `long:"password" env:"BRIDGE_PASSWORD" description:"password to require on remote connections"`
	Drive    string `long:"drive" description:"Modbus TCP address (host:port) of the drive"`
	Serial   string `long:"serial" description:"serial port of the drive for Modbus RTU"`
	Baud     int    `long:"baud" default:"115200" description:"serial baud rate"`
	SlaveId  byte   `long:"slave-id" default:"1" description:"Modbus unit identifier"`
}

type sender interface {
	Send(aduRequest []byte) ([]byte, error)
}

type Server struct {
	handler  sender
	password string
}

func NewServer(opts Options) *Server {
	var handler sender
	if opts.Serial != "" {
		h := modbus.NewRTUClientHandler(opts.Serial)
		h.BaudRate = opts.Baud
		h.DataBits = 8
		h.Parity = "N"
		h.StopBits = 1
		h.Timeout = 1 * time.Second
		h.SlaveId = opts.SlaveId
		handler = h
	} else {
		h := modbus.NewTCPClientHandler(opts.Drive)
		h.Timeout = 1 * time.Second
		h.SlaveId = opts.SlaveId
		handler = h
	}
	return &Server{
		handler:  handler,
		password: opts.Password,
	}
}

func (s *Server) SendHandler(w http.ResponseWriter, r *http.Request) {
	_, pass, ok := r.BasicAuth()
	if s.password != "" && (!ok || pass != s.password) {
		http.Error(w, "wrong password", http.StatusUnauthorized)
		return
	}
	err := func() error {
		aduRequest, err := ioutil.ReadAll(r.Body)
		if err != nil {
			return err
		}
		aduResponse, err := s.handler.Send(aduRequest)
		var errString string
		if err != nil {
			errString = err.Error()
		}
		body, err := json.Marshal(&modbushttp.SendResponse{
			ADUResponse: aduResponse,
			Error:       errString,
		})
		if err != nil {
			return err
		}
		_, err = w.Write(body)
		return err
	}()
	if err != nil {
		log.Printf("SendHandler: %v", err)
		http.Error(w, err.Error(), 500)
		return
	}
}

func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.Handle("/api/send", http.HandlerFunc(s.SendHandler)).Methods(http.MethodPost)
	return r
}

func main() {
	var opts Options
	if _, err := flags.Parse(&opts); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}
	if opts.Drive == "" && opts.Serial == "" {
		log.Fatal("one of --drive or --serial is required")
	}
	server := NewServer(opts)
	srv := &http.Server{
		Handler:      server.Router(),
		Addr:         opts.Addr,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
	log.Printf("Listening on %v", srv.Addr)
	log.Fatal(srv.ListenAndServe())
}
