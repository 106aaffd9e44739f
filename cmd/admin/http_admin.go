package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// httpCmd drives the loopback admin endpoints of a running server.
func httpCmd(name string, args []string, out io.Writer) error {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	client := fs.String("client", "", "client uuid (move, group)")
	dim := fs.String("dimension", "", "target dimension (move)")
	group := fs.String("group", "", "group id (group; empty lists groups)")
	if err := fs.Parse(args); err != nil {
		return usageError(err.Error())
	}
	base := strings.TrimRight(strings.TrimSpace(*baseURL), "/")

	var (
		method = http.MethodPost
		path   string
		body   any
	)
	switch name {
	case "reload":
		path = "/admin/v1/reload"
	case "move":
		path = "/admin/v1/move"
		body = map[string]string{"client_id": *client, "dimension": *dim}
	case "group":
		path = "/admin/v1/group"
		if *group == "" {
			method = http.MethodGet
		} else {
			body = map[string]string{"client_id": *client, "group": *group}
		}
	}

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, base+path, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	cl := &http.Client{Timeout: 10 * time.Second}
	resp, err := cl.Do(req)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	fmt.Fprint(out, string(b))
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("%s: %s", path, resp.Status)
	}
	return nil
}
