package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/w1xm/drive_logger/internal/modbus/modbushttp"
)

type echoSender struct {
	err error
}

func (e echoSender) Send(aduRequest []byte) ([]byte, error) {
	return append([]byte{0xAA}, aduRequest...), e.err
}

func TestSendHandler(t *testing.T) {
	for _, test := range []struct {
		name       string
		password   string
		sender     echoSender
		wantStatus int
		want       modbushttp.SendResponse
	}{
		{"ok", "secret", echoSender{}, 200, modbushttp.SendResponse{ADUResponse: []byte{0xAA, 1, 2}}},
		{"drive error", "secret", echoSender{err: errors.New("timeout")}, 200, modbushttp.SendResponse{ADUResponse: []byte{0xAA, 1, 2}, Error: "timeout"}},
		{"wrong password", "nope", echoSender{}, http.StatusUnauthorized, modbushttp.SendResponse{}},
	} {
		t.Run(test.name, func(t *testing.T) {
			s := &Server{handler: test.sender, password: "secret"}
			req := httptest.NewRequest(http.MethodPost, "/api/send", bytes.NewReader([]byte{1, 2}))
			req.SetBasicAuth("", test.password)
			rec := httptest.NewRecorder()
			s.Router().ServeHTTP(rec, req)
			if rec.Code != test.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, test.wantStatus)
			}
			if test.wantStatus != 200 {
				return
			}
			var got modbushttp.SendResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if diff := cmp.Diff(got, test.want); diff != "" {
				t.Errorf("unexpected response: got(-)/want(+):\n%s", diff)
			}
		})
	}
}

func TestBridgeRoundTrip(t *testing.T) {
	s := &Server{handler: echoSender{}}
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	got, err := modbushttp.NewClient(srv.URL+"/api/send", "", 1, false).Send([]byte{7})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if diff := cmp.Diff(got, []byte{0xAA, 7}); diff != "" {
		t.Errorf("unexpected ADU: got(-)/want(+):\n%s", diff)
	}
}
