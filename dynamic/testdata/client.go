package sample

import (
	"github.com/ZenLiuCN/bypass"
)

//go:generate go run github.com/ZenLiuCN/bypass/ctl compile -k sample client.go
//go:generate go run github.com/ZenLiuCN/bypass/ctl compile -k sample --pack client.go
//go:generate go run github.com/ZenLiuCN/bypass/ctl compile -k sample --linkable client.go

var starts int

type client struct {
	bypass.UnsupportedClient
}

// Start is the module start entry. It counts starts carried through the token.
func Start(config []byte, sys *bypass.Sys, prev bypass.Token) (bypass.Client, error) {
	if n, ok := prev.(int); ok {
		starts = n
	}
	starts++
	return client{}, nil
}

func Stop() bypass.Token {
	return starts
}

func FlushLogs() {}

func Version() string {
	return "sample"
}
