package scopeapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gitlab.com/pnathan/scoped/src/lib/log"
	"gitlab.com/pnathan/scoped/src/lib/utility/trie"
)

// GrantRequest appends values to a scope.
type GrantRequest struct {
	Scope  string   `json:"scope"`
	Values []string `json:"values"`
}

// ScopeValues is the answer to a granted query.
type ScopeValues struct {
	Scope  string   `json:"scope"`
	Values []string `json:"values"`
}

type RelevantRequest struct {
	Scopes []string `json:"scopes"`
}

type RelevantResponse struct {
	Scopes []string `json:"scopes"`
}

type AllowsResponse struct {
	Scope     string `json:"scope"`
	Principal string `json:"principal"`
	Allowed   bool   `json:"allowed"`
}

type Keys struct {
	Keys []string `json:"keys"`
}

// WireSnapshot is the structure used for snapshot transfer between nodes
// and clients. Revision orders snapshots; the higher one is newer.
type WireSnapshot struct {
	Revision   uint64                `json:"revision"`
	Generation uuid.UUID             `json:"generation"`
	Index      trie.Snapshot[string] `json:"index"`
}

type Statistics struct {
	Revision   uint64     `json:"revision"`
	Generation uuid.UUID  `json:"generation"`
	Index      trie.Stats `json:"index"`
	Peers      int        `json:"peers"`
}

type Peerage struct {
	Peers []string `json:"peers"`
}

// Error is the body of every non-2xx response.
type Error struct {
	Error string `json:"error"`
}

const (
	http_get    = "GET"
	http_put    = "PUT"
	http_delete = "DELETE"
	http_post   = "POST"
)

func httpGet(addr string) (*http.Response, error) {
	return httpMethod(http_get, addr, nil)
}

func httpPut(addr string, text []byte) (*http.Response, error) {
	return httpMethod(http_put, addr, text)
}

func httpDelete(addr string, text []byte) (*http.Response, error) {
	return httpMethod(http_delete, addr, text)
}

func httpPost(addr string, text []byte) (*http.Response, error) {
	return httpMethod(http_post, addr, text)
}

func httpMethod(method, addr string, text []byte) (*http.Response, error) {
	log.Debug("calling peer", zap.String("method", method), zap.String("endpoint", addr))
	buf := bytes.NewBuffer(text)
	client := &http.Client{}
	req, err := http.NewRequest(method, addr, buf)
	if err != nil {
		log.Warn("http error", zap.Error(err), zap.String("host", addr))
		return nil, err
	}
	if text != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := client.Do(req)
	if err != nil {
		log.Warn("http error", zap.Error(err), zap.String("host", addr))
		return nil, err
	}

	return resp, nil
}

// statusError turns a non-2xx response into an error carrying the server's
// message when there is one.
func statusError(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	e := Error{}
	if err := json.Unmarshal(body, &e); err == nil && e.Error != "" {
		return fmt.Errorf("bad status %d: %s", resp.StatusCode, e.Error)
	}
	return fmt.Errorf("bad status %d", resp.StatusCode)
}

func decode(resp *http.Response, into any, address string) error {
	defer resp.Body.Close()
	if err := statusError(resp); err != nil {
		return err
	}
	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(into); err != nil {
		log.Warn("decoding error", zap.Error(err), zap.String("address", address))
		return err
	}
	return nil
}

func expectOK(resp *http.Response) error {
	defer resp.Body.Close()
	return statusError(resp)
}

// Grant appends values to scope on the server at addr.
func Grant(data *GrantRequest, addr string) error {
	text, err := json.Marshal(data)
	if err != nil {
		return err
	}
	formulatedAddress := fmt.Sprintf("%v/api/grant", addr)
	resp, err := httpPut(formulatedAddress, text)
	if err != nil {
		return err
	}
	return expectOK(resp)
}

func getScopeValues(path, scope, addr string) (*ScopeValues, error) {
	q := url.Values{}
	q.Set("scope", scope)
	formulatedAddress := fmt.Sprintf("%v%v?%v", addr, path, q.Encode())
	resp, err := httpGet(formulatedAddress)
	if err != nil {
		return nil, err
	}
	s := &ScopeValues{}
	if err := decode(resp, s, formulatedAddress); err != nil {
		return nil, err
	}
	return s, nil
}

// GetGranted returns everything granted at scope and beneath it.
func GetGranted(scope, addr string) (*ScopeValues, error) {
	return getScopeValues("/api/granted", scope, addr)
}

// GetGrantedExact returns only what is granted at scope itself.
func GetGrantedExact(scope, addr string) (*ScopeValues, error) {
	return getScopeValues("/api/granted/exact", scope, addr)
}

func PostRelevant(scopes []string, addr string) (*RelevantResponse, error) {
	text, err := json.Marshal(&RelevantRequest{Scopes: scopes})
	if err != nil {
		return nil, err
	}
	formulatedAddress := fmt.Sprintf("%v/api/relevant", addr)
	resp, err := httpPost(formulatedAddress, text)
	if err != nil {
		return nil, err
	}
	r := &RelevantResponse{}
	if err := decode(resp, r, formulatedAddress); err != nil {
		return nil, err
	}
	return r, nil
}

func GetAllows(scope, principal, addr string) (*AllowsResponse, error) {
	q := url.Values{}
	q.Set("scope", scope)
	q.Set("principal", principal)
	formulatedAddress := fmt.Sprintf("%v/api/allows?%v", addr, q.Encode())
	resp, err := httpGet(formulatedAddress)
	if err != nil {
		return nil, err
	}
	a := &AllowsResponse{}
	if err := decode(resp, a, formulatedAddress); err != nil {
		return nil, err
	}
	return a, nil
}

func GetKeys(addr string) (*Keys, error) {
	formulatedAddress := fmt.Sprintf("%v/api/keys", addr)
	resp, err := httpGet(formulatedAddress)
	if err != nil {
		return nil, err
	}
	k := &Keys{}
	if err := decode(resp, k, formulatedAddress); err != nil {
		return nil, err
	}
	return k, nil
}

func GetStatistics(addr string) (*Statistics, error) {
	formulatedAddress := fmt.Sprintf("%v/api/statistics", addr)
	resp, err := httpGet(formulatedAddress)
	if err != nil {
		return nil, err
	}
	s := &Statistics{}
	if err := decode(resp, s, formulatedAddress); err != nil {
		return nil, err
	}
	return s, nil
}

func GetSnapshot(addr string) (*WireSnapshot, error) {
	formulatedAddress := fmt.Sprintf("%v/api/snapshot", addr)
	log.Info("Reading peer", zap.String("endpoint", formulatedAddress))
	resp, err := httpGet(formulatedAddress)
	if err != nil {
		return nil, err
	}
	s := &WireSnapshot{}
	if err := decode(resp, s, formulatedAddress); err != nil {
		return nil, err
	}
	return s, nil
}

// PutSnapshot overwrites the registry at addr with s.
func PutSnapshot(s *WireSnapshot, addr string) error {
	text, err := json.Marshal(s)
	if err != nil {
		return err
	}
	formulatedAddress := fmt.Sprintf("%v/api/snapshot", addr)
	resp, err := httpPut(formulatedAddress, text)
	if err != nil {
		log.Printf("error writing peer %v", err)
		return err
	}
	return expectOK(resp)
}

func PutPeers(data *Peerage, addr string) error {
	text, err := json.Marshal(data)
	if err != nil {
		return err
	}
	formulatedAddress := fmt.Sprintf("%v/api/peers", addr)
	resp, err := httpPut(formulatedAddress, text)
	if err != nil {
		return err
	}
	return expectOK(resp)
}

func GetPeers(addr string) (*Peerage, error) {
	formulatedAddress := fmt.Sprintf("%v/api/peers", addr)
	resp, err := httpGet(formulatedAddress)
	if err != nil {
		return nil, err
	}
	s := &Peerage{}
	if err := decode(resp, s, formulatedAddress); err != nil {
		return nil, err
	}
	return s, nil
}

func PostSweep(addr string) error {
	formulatedAddress := fmt.Sprintf("%v/api/peers/sweep", addr)
	resp, err := httpPost(formulatedAddress, nil)
	if err != nil {
		return err
	}
	return expectOK(resp)
}

func PutAutoSweeps(addr string) error {
	formulatedAddress := fmt.Sprintf("%v/api/peers/sweep/auto", addr)
	resp, err := httpPut(formulatedAddress, []byte{})
	if err != nil {
		return err
	}
	return expectOK(resp)
}

func DeleteAutoSweeps(addr string) error {
	formulatedAddress := fmt.Sprintf("%v/api/peers/sweep/auto", addr)
	resp, err := httpDelete(formulatedAddress, []byte{})
	if err != nil {
		return err
	}
	return expectOK(resp)
}
