package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"rpsarena.ai/internal/protocol"
)

func stateCmd(args []string) {
	fs := flag.NewFlagSet("state", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	_ = fs.Parse(args)

	u := strings.TrimRight(strings.TrimSpace(*baseURL), "/") + "/admin/v1/state"
	cl := &http.Client{Timeout: 5 * time.Second}
	resp, err := cl.Get(u)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	fmt.Println(string(b))
	if resp.StatusCode/100 != 2 {
		os.Exit(1)
	}
}

func controlCmd(args []string) {
	fs := flag.NewFlagSet("control", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	steps := fs.Int("steps", 1, "contest count for the step command")
	_ = fs.Parse(args)

	command := strings.TrimSpace(fs.Arg(0))
	if command == "" {
		fmt.Fprintln(os.Stderr, "usage: admin control [-url URL] [-steps N] start|pause|reset|step")
		os.Exit(2)
	}

	body, _ := json.Marshal(protocol.ControlRequest{Command: command, Steps: *steps})
	u := strings.TrimRight(strings.TrimSpace(*baseURL), "/") + "/admin/v1/control"
	req, _ := http.NewRequest(http.MethodPost, u, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	cl := &http.Client{Timeout: 10 * time.Second}
	resp, err := cl.Do(req)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	fmt.Println(string(b))
	if resp.StatusCode/100 != 2 {
		os.Exit(1)
	}

	// Rejected commands come back 200 with ok=false; scripts want a real
	// exit code either way.
	var cr protocol.ControlResponse
	if err := json.Unmarshal(b, &cr); err == nil && !cr.OK {
		os.Exit(1)
	}
}
