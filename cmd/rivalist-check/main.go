package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Connectivity checker: verifies that a running server answers /healthz and,
// when a username is given, that the /ws notification stream accepts a
// subscriber. Intended for deploy smoke tests.
func main() {
	baseURL := strings.TrimRight(os.Getenv("RIVALIST_BASE_URL"), "/")
	username := strings.TrimSpace(os.Getenv("RIVALIST_USERNAME"))

	if baseURL == "" {
		log.Fatal("RIVALIST_BASE_URL is required")
	}

	if err := checkHealth(baseURL); err != nil {
		log.Fatalf("/healthz error: %v", err)
	}
	log.Printf("/healthz ok: %s", baseURL)

	if username == "" {
		log.Println("RIVALIST_USERNAME not set; skipping WS check")
		return
	}
	if err := checkWS(baseURL, username); err != nil {
		log.Fatalf("/ws error: %v", err)
	}
}

func checkHealth(baseURL string) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(baseURL + "/healthz")
	req.Header.SetMethod(fasthttp.MethodGet)
	if err := fasthttp.DoTimeout(req, resp, 5*time.Second); err != nil {
		return err
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode())
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return err
	}
	if body.Status != "ok" {
		return fmt.Errorf("unexpected status %q", body.Status)
	}
	return nil
}

func checkWS(baseURL, username string) error {
	wsURL := strings.Replace(baseURL, "http", "ws", 1) + "/ws?username=" + username

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")
	log.Printf("/ws connected as %s, observing for 10s", username)

	// Print whatever notifications arrive during the observation window.
	obsCtx, obsCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer obsCancel()
	for {
		var msg map[string]any
		if err := wsjson.Read(obsCtx, conn, &msg); err != nil {
			if obsCtx.Err() != nil {
				return nil
			}
			return err
		}
		log.Printf("notification: event=%v", msg["event"])
	}
}
