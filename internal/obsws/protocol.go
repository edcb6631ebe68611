package obsws

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// Opcodes of the obs-websocket v5 protocol.
const (
	opHello                = 0
	opIdentify             = 1
	opIdentified           = 2
	opRequest              = 6
	opRequestResponse      = 7
	opRequestBatch         = 8
	opRequestBatchResponse = 9
)

const (
	rpcVersion  = 1
	subprotocol = "obswebsocket.json"

	// closeAuthFailed is the close code sent when Identify is rejected.
	closeAuthFailed = 4009
)

// Request kinds used by the monitor.
const (
	GetOutputList   = "GetOutputList"
	GetStats        = "GetStats"
	GetOutputStatus = "GetOutputStatus"
)

type message struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d"`
}

type hello struct {
	RPCVersion     int `json:"rpcVersion"`
	Authentication *struct {
		Challenge string `json:"challenge"`
		Salt      string `json:"salt"`
	} `json:"authentication,omitempty"`
}

type identify struct {
	RPCVersion         int    `json:"rpcVersion"`
	Authentication     string `json:"authentication,omitempty"`
	EventSubscriptions int    `json:"eventSubscriptions"`
}

type requestEnvelope struct {
	Type string `json:"requestType"`
	ID   string `json:"requestId"`
	Data any    `json:"requestData,omitempty"`
}

type batchEnvelope struct {
	ID            string    `json:"requestId"`
	HaltOnFailure bool      `json:"haltOnFailure"`
	ExecutionType int       `json:"executionType"`
	Requests      []Request `json:"requests"`
}

type batchResponse struct {
	ID      string     `json:"requestId"`
	Results []Response `json:"results"`
}

// Request is one entry of a batch.
type Request struct {
	Type string `json:"requestType"`
	Data any    `json:"requestData,omitempty"`
}

// Status is the per-request outcome reported by the remote end.
type Status struct {
	Result  bool   `json:"result"`
	Code    int    `json:"code"`
	Comment string `json:"comment,omitempty"`
}

// Response is the answer to a single request or to one entry of a batch.
type Response struct {
	Type   string          `json:"requestType"`
	ID     string          `json:"requestId,omitempty"`
	Status Status          `json:"requestStatus"`
	Data   json.RawMessage `json:"responseData,omitempty"`
}

// OK reports whether the request succeeded and carried response data.
func (r Response) OK() bool {
	return r.Status.Result && len(r.Data) > 0 && string(r.Data) != "null"
}

// OutputStatusRequest builds a GetOutputStatus request for name.
func OutputStatusRequest(name string) Request {
	return Request{Type: GetOutputStatus, Data: map[string]string{"outputName": name}}
}

// OutputList is the GetOutputList response body.
type OutputList struct {
	Outputs []struct {
		Name string `json:"outputName"`
		Kind string `json:"outputKind,omitempty"`
	} `json:"outputs"`
}

// Names returns output names in listing order.
func (l OutputList) Names() []string {
	names := make([]string, 0, len(l.Outputs))
	for _, o := range l.Outputs {
		names = append(names, o.Name)
	}
	return names
}

// AuthString computes the Identify authentication string for a password.
func AuthString(password, salt, challenge string) string {
	secret := sha256.Sum256([]byte(password + salt))
	secretB64 := base64.StdEncoding.EncodeToString(secret[:])
	auth := sha256.Sum256([]byte(secretB64 + challenge))
	return base64.StdEncoding.EncodeToString(auth[:])
}

// NormalizeAddress defaults a bare host:port to ws:// and validates it.
func NormalizeAddress(address string) (string, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return "", &ConnectError{Kind: BadAddress, Address: address, Message: "address is empty"}
	}
	if !strings.Contains(address, "://") {
		address = "ws://" + address
	}
	u, err := url.Parse(address)
	if err != nil {
		return "", &ConnectError{Kind: BadAddress, Address: address, Message: fmt.Sprintf("invalid address %q", address), Err: err}
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", &ConnectError{Kind: BadAddress, Address: address, Message: fmt.Sprintf("unsupported scheme %q", u.Scheme)}
	}
	if u.Host == "" || u.Hostname() == "" {
		return "", &ConnectError{Kind: BadAddress, Address: address, Message: fmt.Sprintf("missing host in %q", address)}
	}
	return u.String(), nil
}
