package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/akamensky/argparse"
	"go.uber.org/zap"

	"gitlab.com/pnathan/scoped/src/lib/log"
	"gitlab.com/pnathan/scoped/src/lib/scopeapi"
	"gitlab.com/pnathan/scoped/src/lib/scopes"
)

func MustMarshal(v any) []byte {
	b := new(bytes.Buffer)
	encoder := json.NewEncoder(b)
	encoder.SetIndent("", "  ")
	err := encoder.Encode(v)
	if err != nil {
		panic(err)
	}

	return b.Bytes()
}

func Moan(complaint error) {
	log.Fatal("", zap.Error(complaint))
	os.Exit(1)
}

func readInput(filename string) []byte {
	if filename != "" {
		filedata, err := os.ReadFile(filename)
		if err != nil {
			log.Fatal("unable to read file", zap.String("filename", filename), zap.Error(err))
		}
		return filedata
	}
	sin, err := io.ReadAll(os.Stdin)
	if err != nil {
		Moan(err)
	}
	return sin
}

func main() {
	parser := argparse.NewParser("scoped client", "scope registry client")

	endpoint := parser.String("e", "endpoint", &argparse.Options{Required: false, Help: "endpoint to address", Default: "http://localhost:1337"})

	grantCmd := parser.NewCommand("grant", "grant values on a scope")
	grantScope := grantCmd.String("s", "scope", &argparse.Options{Required: true, Help: "dotted scope"})
	grantValues := grantCmd.StringList("g", "grant", &argparse.Options{Required: false, Help: "value to grant; repeatable"})

	loadCmd := parser.NewCommand("load", "grant every entry of a yaml scope file")
	loadFile := loadCmd.String("f", "file", &argparse.Options{Required: true, Help: "yaml scope file"})

	grantedCmd := parser.NewCommand("granted", "everything granted at and beneath a scope")
	grantedScope := grantedCmd.String("s", "scope", &argparse.Options{Required: true, Help: "dotted scope"})

	exactCmd := parser.NewCommand("exact", "what is granted at exactly a scope")
	exactScope := exactCmd.String("s", "scope", &argparse.Options{Required: true, Help: "dotted scope"})

	relevantCmd := parser.NewCommand("relevant", "which scopes the registry knows")
	relevantScopes := relevantCmd.StringList("s", "scope", &argparse.Options{Required: true, Help: "candidate scope; repeatable"})

	allowsCmd := parser.NewCommand("allows", "whether a principal is granted a scope")
	allowsScope := allowsCmd.String("s", "scope", &argparse.Options{Required: true, Help: "dotted scope"})
	allowsPrincipal := allowsCmd.String("u", "principal", &argparse.Options{Required: true, Help: "principal"})

	keysCmd := parser.NewCommand("keys", "list every known scope")
	statsCmd := parser.NewCommand("statistics", "registry statistics")

	snapshotGetCmd := parser.NewCommand("snapshot-get", "get snapshot")
	snapshotPutCmd := parser.NewCommand("snapshot-put", "overwrite the registry with a snapshot")
	snapshotFile := snapshotPutCmd.String("f", "file", &argparse.Options{Required: false, Help: "file with the snapshot; if not present, reads from stdin"})

	peerPut := parser.NewCommand("peer-put", "puts the peer list")
	peerFile := peerPut.String("f", "file", &argparse.Options{Required: true, Help: "list of the peers"})
	peerGet := parser.NewCommand("peer-get", "gets the peer list")
	peerSweep := parser.NewCommand("peer-sweep", "request a sweep")
	peerSweepEnable := parser.NewCommand("peer-sweep-enable", "enable automatic sweeps")
	peerSweepDisable := parser.NewCommand("peer-sweep-disable", "disable automatic sweeps")

	// Parse input
	err := parser.Parse(os.Args)
	if err != nil {
		// In case of error print error and print usage
		// This can also be done by passing -h or --help flags
		fmt.Print(parser.Usage(err))
		return
	}

	if grantCmd.Happened() {
		req := &scopeapi.GrantRequest{Scope: *grantScope, Values: *grantValues}
		if err := scopeapi.Grant(req, *endpoint); err != nil {
			Moan(err)
		}
	} else if loadCmd.Happened() {
		f, err := scopes.LoadScopes(*loadFile)
		if err != nil {
			Moan(err)
		}
		for _, e := range f.Scopes {
			if err := scopeapi.Grant(&scopeapi.GrantRequest{Scope: e.Scope, Values: e.Grants}, *endpoint); err != nil {
				Moan(err)
			}
		}
	} else if grantedCmd.Happened() {
		v, err := scopeapi.GetGranted(*grantedScope, *endpoint)
		if err != nil {
			Moan(err)
		}
		fmt.Println(string(MustMarshal(v)))
	} else if exactCmd.Happened() {
		v, err := scopeapi.GetGrantedExact(*exactScope, *endpoint)
		if err != nil {
			Moan(err)
		}
		fmt.Println(string(MustMarshal(v)))
	} else if relevantCmd.Happened() {
		v, err := scopeapi.PostRelevant(*relevantScopes, *endpoint)
		if err != nil {
			Moan(err)
		}
		fmt.Println(string(MustMarshal(v)))
	} else if allowsCmd.Happened() {
		v, err := scopeapi.GetAllows(*allowsScope, *allowsPrincipal, *endpoint)
		if err != nil {
			Moan(err)
		}
		fmt.Println(string(MustMarshal(v)))
		if !v.Allowed {
			os.Exit(2)
		}
	} else if keysCmd.Happened() {
		v, err := scopeapi.GetKeys(*endpoint)
		if err != nil {
			Moan(err)
		}
		fmt.Println(string(MustMarshal(v)))
	} else if statsCmd.Happened() {
		v, err := scopeapi.GetStatistics(*endpoint)
		if err != nil {
			Moan(err)
		}
		fmt.Println(string(MustMarshal(v)))
	} else if snapshotGetCmd.Happened() {
		s, err := scopeapi.GetSnapshot(*endpoint)
		if err != nil {
			Moan(err)
		}
		fmt.Println(string(MustMarshal(s)))
	} else if snapshotPutCmd.Happened() {
		s := &scopeapi.WireSnapshot{}
		if err := json.Unmarshal(readInput(*snapshotFile), s); err != nil {
			Moan(err)
		}
		if err := scopeapi.PutSnapshot(s, *endpoint); err != nil {
			Moan(err)
		}
	} else if peerPut.Happened() {
		filedata, err := os.ReadFile(*peerFile)
		if err != nil {
			Moan(err)
		}
		peers := &scopeapi.Peerage{}
		if err := json.Unmarshal(filedata, peers); err != nil {
			Moan(err)
		}
		if err := scopeapi.PutPeers(peers, *endpoint); err != nil {
			Moan(err)
		}
	} else if peerGet.Happened() {
		peers, err := scopeapi.GetPeers(*endpoint)
		if err != nil {
			Moan(err)
		}
		fmt.Println(string(MustMarshal(peers)))
	} else if peerSweep.Happened() {
		if err := scopeapi.PostSweep(*endpoint); err != nil {
			Moan(err)
		}
	} else if peerSweepEnable.Happened() {
		if err := scopeapi.PutAutoSweeps(*endpoint); err != nil {
			Moan(err)
		}
	} else if peerSweepDisable.Happened() {
		if err := scopeapi.DeleteAutoSweeps(*endpoint); err != nil {
			Moan(err)
		}
	} else {
		Moan(fmt.Errorf("can't happen"))
	}
}
