// Command client is an interactive shell over one client session. It keeps
// at most one file open at a time and maps each line to a session call:
//
//	open <path> <ro|wo|rw>
//	read <n>
//	write <text>
//	seek <pos>
//	close
//	exit
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/golang/glog"

	"github.com/awalker/dfs/pkg/client"
)

var (
	addr     = flag.String("addr", "localhost:9000", "server address")
	cacheDir = flag.String("cache", "client_cache", "directory for cached file copies")
)

func main() {
	flag.Parse()
	defer glog.Flush()

	c, err := client.Dial(*addr, *cacheDir)
	if err != nil {
		glog.Exitf("connecting: %v", err)
	}
	defer c.Close()

	var open *client.File
	defer func() {
		if open != nil {
			open.Close()
		}
	}()

	fmt.Printf("connected to %s\n", *addr)
	scanner := bufio.NewScanner(os.Stdin)
	for prompt(open); scanner.Scan(); prompt(open) {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "open":
			if len(fields) != 3 {
				fmt.Println("usage: open <path> <ro|wo|rw>")
				continue
			}
			if open != nil {
				fmt.Printf("close %s first\n", open.Path())
				continue
			}
			f, err := c.Open(fields[1], fields[2])
			if err != nil {
				fmt.Printf("open failed: %v\n", err)
				continue
			}
			open = f
		case "read":
			if open == nil {
				fmt.Println("no file open")
				continue
			}
			if len(fields) != 2 {
				fmt.Println("usage: read <n>")
				continue
			}
			n, err := strconv.Atoi(fields[1])
			if err != nil || n < 0 {
				fmt.Printf("bad length %q\n", fields[1])
				continue
			}
			buf := make([]byte, n)
			read, err := io.ReadFull(open, buf)
			if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
				fmt.Printf("read failed: %v\n", err)
				continue
			}
			fmt.Printf("%q\n", buf[:read])
		case "write":
			if open == nil {
				fmt.Println("no file open")
				continue
			}
			if len(fields) < 2 {
				fmt.Println("usage: write <text>")
				continue
			}
			text := strings.TrimPrefix(scanner.Text(), "write ")
			if _, err := open.Write([]byte(text)); err != nil {
				fmt.Printf("write failed: %v\n", err)
			}
		case "seek":
			if open == nil {
				fmt.Println("no file open")
				continue
			}
			if len(fields) != 2 {
				fmt.Println("usage: seek <pos>")
				continue
			}
			pos, err := strconv.ParseInt(fields[1], 10, 64)
			if err != nil || pos < 0 {
				fmt.Printf("bad position %q\n", fields[1])
				continue
			}
			if _, err := open.Seek(pos, io.SeekStart); err != nil {
				fmt.Printf("seek failed: %v\n", err)
			}
		case "close":
			if open == nil {
				fmt.Println("no file open")
				continue
			}
			if err := open.Close(); err != nil {
				fmt.Printf("close failed: %v\n", err)
			}
			open = nil
		case "exit":
			return
		default:
			fmt.Printf("unknown command %q\n", fields[0])
		}
	}
}

func prompt(open *client.File) {
	if open != nil {
		fmt.Printf("[%s:%s]> ", open.Path(), open.Mode())
		return
	}
	fmt.Print("> ")
}
