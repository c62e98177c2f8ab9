package scopes

import (
	"sync"

	"gitlab.com/pnathan/scoped/src/lib/scopeapi"
)

type Peers struct {
	scopeapi.Peerage
	sync.Mutex
}

func NewPeers() *Peers {
	p := scopeapi.Peerage{Peers: []string{}}
	return &Peers{Peerage: p}
}

func (r *Peers) GetPeers() []string {
	r.Lock()
	defer r.Unlock()
	retval := make([]string, 0, len(r.Peers))
	retval = append(retval, r.Peers...)
	return retval
}

func (r *Peers) SetPeers(peers []string) {
	r.Lock()
	defer r.Unlock()
	r.Peers = append([]string{}, peers...)
}

func (r *Peers) Length() int {
	r.Lock()
	defer r.Unlock()
	return len(r.Peers)
}
