package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/akamensky/argparse"
	"github.com/gorilla/mux"
	"github.com/justinas/alice"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"gitlab.com/pnathan/scoped/src/lib/log"
	"gitlab.com/pnathan/scoped/src/lib/scopeapi"
	"gitlab.com/pnathan/scoped/src/lib/scopes"
	"gitlab.com/pnathan/scoped/src/lib/utility/trie"
)

var GLOBAL_REGISTRY *scopes.Registry

var GLOBAL_PEERS *scopes.Peers

var GLOBAL_METRICS *prometheus.Registry

func writeJSON(w http.ResponseWriter, status int, v any) {
	bytes, err := json.Marshal(v)
	if err != nil {
		log.Error("encoding response", zap.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(bytes)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, scopeapi.Error{Error: err.Error()})
}

func grant(w http.ResponseWriter, r *http.Request) {
	decoder := json.NewDecoder(r.Body)

	data := scopeapi.GrantRequest{}
	if err := decoder.Decode(&data); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("couldn't decode: %w", err))
		return
	}
	if err := GLOBAL_REGISTRY.Grant(data.Scope, data.Values...); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	log.Debug("granted", zap.String("scope", data.Scope), zap.Strings("values", data.Values))
	writeJSON(w, http.StatusOK, scopeapi.ScopeValues{Scope: data.Scope, Values: data.Values})
}

func requireScope(w http.ResponseWriter, r *http.Request) (string, bool) {
	scope := r.URL.Query().Get("scope")
	if _, err := trie.Split(scope); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return "", false
	}
	return scope, true
}

func granted(w http.ResponseWriter, r *http.Request) {
	scope, ok := requireScope(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, scopeapi.ScopeValues{Scope: scope, Values: GLOBAL_REGISTRY.Granted(scope)})
}

func grantedExact(w http.ResponseWriter, r *http.Request) {
	scope, ok := requireScope(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, scopeapi.ScopeValues{Scope: scope, Values: GLOBAL_REGISTRY.GrantedExact(scope)})
}

func relevant(w http.ResponseWriter, r *http.Request) {
	decoder := json.NewDecoder(r.Body)

	data := scopeapi.RelevantRequest{}
	if err := decoder.Decode(&data); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("couldn't decode: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, scopeapi.RelevantResponse{Scopes: GLOBAL_REGISTRY.Relevant(data.Scopes)})
}

func allows(w http.ResponseWriter, r *http.Request) {
	scope, ok := requireScope(w, r)
	if !ok {
		return
	}
	principal := r.URL.Query().Get("principal")
	if principal == "" {
		writeError(w, http.StatusBadRequest, errors.New("missing principal"))
		return
	}
	writeJSON(w, http.StatusOK, scopeapi.AllowsResponse{
		Scope:     scope,
		Principal: principal,
		Allowed:   GLOBAL_REGISTRY.Allows(scope, principal),
	})
}

func keys(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scopeapi.Keys{Keys: GLOBAL_REGISTRY.Keys()})
}

func returnSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, GLOBAL_REGISTRY.Snapshot())
}

// overwriteSnapshot replaces the registry in place. A snapshot that fails
// to decode leaves the registry empty.
func overwriteSnapshot(w http.ResponseWriter, r *http.Request) {
	decoder := json.NewDecoder(r.Body)

	candidate := scopeapi.WireSnapshot{}
	if err := decoder.Decode(&candidate); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("couldn't decode: %w", err))
		return
	}
	if err := GLOBAL_REGISTRY.SwapIn(candidate); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, scopeapi.Statistics{
		Revision:   GLOBAL_REGISTRY.Revision(),
		Generation: GLOBAL_REGISTRY.Generation(),
		Index:      GLOBAL_REGISTRY.Stats(),
		Peers:      GLOBAL_PEERS.Length(),
	})
}

func putPeers(w http.ResponseWriter, r *http.Request) {
	decoder := json.NewDecoder(r.Body)

	peers := scopeapi.Peerage{}
	if err := decoder.Decode(&peers); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("couldn't decode: %w", err))
		return
	}
	GLOBAL_PEERS.SetPeers(peers.Peers)
	writeJSON(w, http.StatusOK, scopeapi.Peerage{Peers: GLOBAL_PEERS.GetPeers()})
}

func getPeers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scopeapi.Peerage{Peers: GLOBAL_PEERS.GetPeers()})
}

// sweepPeers is a pull based snapshot getter.
func sweepPeers(w http.ResponseWriter, r *http.Request) {
	updatedFrom := internalSweeper()
	writeJSON(w, http.StatusOK, scopeapi.Peerage{Peers: updatedFrom})
}

// internalSweeper returns the peers the registry was updated from.
func internalSweeper() []string {
	endpoints := GLOBAL_PEERS.GetPeers()
	retval := []string{}
	for _, addr := range endpoints {
		if sweepOnePeer(addr) {
			retval = append(retval, addr)
		}
	}
	return retval
}

func sweepOnePeer(addr string) bool {
	candidate, err := scopeapi.GetSnapshot(addr)
	if err != nil {
		log.Warn("error getting snapshot", zap.String("host", addr), zap.Error(err))
		return false
	}

	updated, err := GLOBAL_REGISTRY.SwapInIfNewer(*candidate)
	if err != nil {
		log.Error("peer snapshot rejected", zap.String("host", addr), zap.Error(err))
		return false
	}
	if !updated {
		log.Debug("peer is not newer", zap.String("host", addr), zap.Uint64("peer", candidate.Revision))
		return false
	}
	log.Info("Updated from peer", zap.String("host", addr), zap.Uint64("revision", candidate.Revision))
	return true
}

type SweepState int64

const (
	WillSweep SweepState = iota
	WillNotSweep
)

type doSweep struct {
	sync.Mutex
	state SweepState
}

func (s *doSweep) IsSweeping() bool {
	s.Lock()
	defer s.Unlock()
	return s.state == WillSweep
}

func (s *doSweep) EnableSweeping() {
	s.Lock()
	defer s.Unlock()
	s.state = WillSweep
}

func (s *doSweep) DisableSweeping() {
	s.Lock()
	defer s.Unlock()
	s.state = WillNotSweep
}

var GLOBAL_CURRENT_SWEEP_STATE *doSweep

func autoSweepPeersEnable(w http.ResponseWriter, r *http.Request) {
	log.Printf("enabling sweeping")
	GLOBAL_CURRENT_SWEEP_STATE.EnableSweeping()
	fmt.Fprintf(w, "enabled")
}

func autoSweepPeersDisable(w http.ResponseWriter, r *http.Request) {
	log.Printf("disabling sweeping")
	GLOBAL_CURRENT_SWEEP_STATE.DisableSweeping()
	fmt.Fprintf(w, "disabled")
}

func fastPeerage(peers string) {
	log.Info("Peers file provided...reading", zap.String("filename", peers))
	filedata, err := os.ReadFile(peers)
	if err != nil {
		log.Error("Unable to read peer file", zap.String("filename", peers), zap.Error(err))
		return
	}
	peersStruct := &scopeapi.Peerage{}
	if err := json.Unmarshal(filedata, peersStruct); err != nil {
		log.Error("unable to decode peer file", zap.String("filename", peers), zap.Error(err))
		return
	}

	GLOBAL_PEERS.SetPeers(peersStruct.Peers)
	GLOBAL_CURRENT_SWEEP_STATE.EnableSweeping()
}

func statistics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, &scopeapi.Statistics{
		Revision:   GLOBAL_REGISTRY.Revision(),
		Generation: GLOBAL_REGISTRY.Generation(),
		Index:      GLOBAL_REGISTRY.Stats(),
		Peers:      GLOBAL_PEERS.Length(),
	})
}

//////////////////////////////////////////////////////////////
func setup(cacheSize int) {
	GLOBAL_REGISTRY = scopes.NewRegistry(trie.WithCacheSize(cacheSize))
	GLOBAL_PEERS = scopes.NewPeers()
	GLOBAL_CURRENT_SWEEP_STATE = &doSweep{state: WillNotSweep}
	GLOBAL_METRICS = prometheus.NewRegistry()
	if err := GLOBAL_REGISTRY.Register(GLOBAL_METRICS); err != nil {
		log.Error("unable to register metrics", zap.Error(err))
	}
}

func Default(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "ok")
}

func Wut(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNotFound)
	fmt.Fprintf(w, "your content is in another url")
}

func loggerHandler(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		h.ServeHTTP(w, r)
		log.Debug("request", zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Duration("took", time.Since(start)))
	})
}

func router() http.Handler {
	r := mux.NewRouter()
	errorChain := alice.New(loggerHandler)
	r.HandleFunc("/healthz", Default)
	r.Handle("/metrics", promhttp.HandlerFor(GLOBAL_METRICS, promhttp.HandlerOpts{})).Methods("GET")

	r.HandleFunc("/api/grant", grant).Methods("PUT")
	r.HandleFunc("/api/granted", granted).Methods("GET")
	r.HandleFunc("/api/granted/exact", grantedExact).Methods("GET")
	r.HandleFunc("/api/relevant", relevant).Methods("POST")
	r.HandleFunc("/api/allows", allows).Methods("GET")
	r.HandleFunc("/api/keys", keys).Methods("GET")

	r.HandleFunc("/api/snapshot", returnSnapshot).Methods("GET")
	r.HandleFunc("/api/snapshot", overwriteSnapshot).Methods("PUT")
	r.HandleFunc("/api/statistics", statistics).Methods("GET")

	r.HandleFunc("/api/peers", putPeers).Methods("PUT")
	r.HandleFunc("/api/peers", getPeers).Methods("GET")
	r.HandleFunc("/api/peers/sweep", sweepPeers).Methods("POST")
	r.HandleFunc("/api/peers/sweep/auto", autoSweepPeersEnable).Methods("PUT")
	r.HandleFunc("/api/peers/sweep/auto", autoSweepPeersDisable).Methods("DELETE")

	r.NotFoundHandler = http.HandlerFunc(Wut)
	return errorChain.Then(r)
}

//////////////////////////////////////////////////////////////
func main() {
	parser := argparse.NewParser("scoped", "runs the scope registry")

	host := parser.String("i", "ip", &argparse.Options{Required: false, Help: "ip to bind to", Default: "0.0.0.0"})
	port := parser.String("p", "port", &argparse.Options{Required: false, Help: "port to bind to", Default: "1337"})
	scopeFile := parser.String("f", "scopes", &argparse.Options{Required: false, Help: "yaml file of scopes to grant at startup"})
	peers := parser.String("q", "peers", &argparse.Options{Required: false, Help: "file containing name of peers; if provided, autosweeps immediately"})
	cacheSize := parser.Int("c", "cache", &argparse.Options{Required: false, Help: "granted query cache entries, 0 disables", Default: trie.DefaultCacheSize})
	verbose := parser.Flag("v", "verbose", &argparse.Options{Help: "debug logging"})
	// Parse input
	err := parser.Parse(os.Args)
	if err != nil {
		// In case of error print error and print usage
		// This can also be done by passing -h or --help flags
		fmt.Print(parser.Usage(err))
		return
	}
	log.SetVerbose(*verbose)
	defer log.Sync()

	setup(*cacheSize)

	if *scopeFile != "" {
		f, err := scopes.LoadScopes(*scopeFile)
		if err != nil {
			log.Fatal("unable to read scope file", zap.String("filename", *scopeFile), zap.Error(err))
		}
		if err := GLOBAL_REGISTRY.Load(f); err != nil {
			log.Fatal("unable to load scopes", zap.String("filename", *scopeFile), zap.Error(err))
		}
	}

	if *peers != "" {
		fastPeerage(*peers)
	}

	log.Printf("Good morning. I am listening on %s:%s", *host, *port)

	go sweeperDaemon()

	srv := &http.Server{
		Handler:      router(),
		Addr:         fmt.Sprintf("%s:%s", *host, *port),
		WriteTimeout: 15 * time.Second,
		ReadTimeout:  15 * time.Second,
	}

	log.Fatal("server failure", zap.Error(srv.ListenAndServe()))
}

func sweeperDaemon() {
	// time before we startup...
	time.Sleep(time.Second * 1)
	// never ending loop
	for {
		// [3, 20)
		sleepTime := 3 + time.Duration(rand.Intn(17))
		if GLOBAL_CURRENT_SWEEP_STATE.IsSweeping() {
			log.Printf("autosweeper beginning sweep")
			updated := internalSweeper()
			log.Info("autosweeper sleeping", zap.Duration("sleep", time.Second*sleepTime), zap.Strings("updated from", updated))
		}

		d := time.Second * sleepTime
		time.Sleep(d)
	}
}
