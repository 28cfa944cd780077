// Package modbushttp carries Modbus ADUs over HTTP to a modbus_bridge that
// owns the physical connection to the drive.
package modbushttp

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/ioutil"
	"net/http"
	"time"

	"github.com/goburrow/modbus"
)

type SendResponse struct {
	ADUResponse []byte
	Error       string
}

type Client struct {
	modbus.Packager

	baseURL  string
	password string
	http     *http.Client
}

// NewClient returns a handler that frames requests for a bridge whose drive
// speaks Modbus TCP, or Modbus RTU when rtu is set.
func NewClient(baseURL, password string, slaveID byte, rtu bool) *Client {
	var packager modbus.Packager
	if rtu {
		handler := modbus.NewRTUClientHandler("/dev/null")
		handler.SlaveId = slaveID
		packager = handler
	} else {
		handler := modbus.NewTCPClientHandler("")
		handler.SlaveId = slaveID
		packager = handler
	}
	return &Client{
		Packager: packager,
		baseURL:  baseURL,
		password: password,
		http:     &http.Client{Timeout: 5 * time.Second},
	}
}

func (c *Client) Send(aduRequest []byte) ([]byte, error) {
	req, err := http.NewRequest(http.MethodPost, c.baseURL, bytes.NewReader(aduRequest))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	if c.password != "" {
		req.SetBasicAuth("", c.password)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("bad status code: %s\n%s", resp.Status, string(body))
	}
	var sendResponse SendResponse
	if err := json.Unmarshal(body, &sendResponse); err != nil {
		return nil, err
	}
	if sendResponse.Error != "" {
		err = errors.New(sendResponse.Error)
	}
	return sendResponse.ADUResponse, err
}

func (c *Client) Connect() error {
	return nil
}

func (c *Client) Close() error {
	return nil
}
