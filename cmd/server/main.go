package main

import (
	"flag"

	"github.com/golang/glog"

	"github.com/awalker/dfs/pkg/blob"
	"github.com/awalker/dfs/pkg/server"
)

var (
	addr = flag.String("addr", ":9000", "address to listen on")
	root = flag.String("root", "server_storage", "directory holding the served files")
)

func main() {
	flag.Parse()
	defer glog.Flush()

	store, err := blob.NewStore(*root)
	if err != nil {
		glog.Exitf("opening storage root: %v", err)
	}
	srv := server.NewServer(*addr, store)
	if err := srv.ListenAndServe(); err != nil {
		glog.Exitf("server stopped: %v", err)
	}
}
