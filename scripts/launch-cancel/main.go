// Interactive harness for the terminate flow.
// It launches a slow synthetic agent, subscribes to its stream over the
// WebSocket gateway and terminates it mid-stream. Live notifications are fed
// through an agentstream gap tracker so dropped or reordered frames surface
// as backfill fetches, and the persisted transcript is aggregated at the end.
// Usage: go run ./scripts/launch-cancel -server=http://localhost:8080
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agentmux/agentmux/pkg/agentstream"
	v1 "github.com/agentmux/agentmux/pkg/api/v1"
	ws "github.com/agentmux/agentmux/pkg/websocket"
)

var (
	server  = flag.String("server", "http://localhost:8080", "agentmux base URL")
	holdMS  = flag.Int("hold-ms", 60000, "how long the synthetic agent stalls before completing on its own")
	timeout = flag.Duration("timeout", 30*time.Second, "overall harness budget")
	force   = flag.Bool("force", false, "skip the stop grace and kill immediately")
)

func main() {
	flag.Parse()
	fmt.Println("=== Launch + Terminate Test ===")
	fmt.Println()

	deadline := time.Now().Add(*timeout)

	// 1. Launch a synthetic agent that stalls long enough to be terminated
	log("Launching synthetic agent (stall %dms)...", *holdMS)
	agent := launchAgent()
	log("Agent ID: %s (status %s)", agent.ID, agent.Status)

	tracker := agentstream.NewGapTracker(agent.ID, fetchMessages)

	// 2. Subscribe to its stream over the WebSocket gateway
	conn := dialGateway()
	defer conn.Close()
	subscribe(conn, agent.ID)
	log("Subscribed to agent stream")

	// 3. Terminate mid-stream
	log("Terminating...")
	terminateAgent(agent.ID)

	// 4. Watch notifications until the terminal status arrives
	for {
		if time.Now().After(deadline) {
			fail("timed out waiting for terminal status")
		}
		_ = conn.SetReadDeadline(deadline)
		_, data, err := conn.ReadMessage()
		if err != nil {
			fail("websocket read: %v", err)
		}
		for _, line := range bytes.Split(data, []byte("\n")) {
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}
			var msg ws.Message
			if err := json.Unmarshal(line, &msg); err != nil {
				log("skipping unparseable frame: %v", err)
				continue
			}
			if done := handleNotification(&msg, agent.ID, tracker); done {
				printTranscript(agent.ID, tracker)
				fmt.Println()
				fmt.Println("PASS: agent reached a terminal status after terminate")
				return
			}
		}
	}
}

// handleNotification routes one gateway message, applying agent messages
// through the gap tracker, and reports whether it is the terminal status for
// the agent under test.
func handleNotification(msg *ws.Message, agentID string, tracker *agentstream.GapTracker) bool {
	switch msg.Action {
	case ws.ActionAgentStatus:
		var ev v1.AgentStatusEvent
		if err := json.Unmarshal(msg.Payload, &ev); err != nil || ev.AgentID != agentID {
			return false
		}
		log("status -> %s", ev.Status)
		return ev.Status.IsTerminal()
	case ws.ActionAgentMessage:
		var ev v1.AgentMessageEvent
		if err := json.Unmarshal(msg.Payload, &ev); err != nil || ev.AgentID != agentID {
			return false
		}
		applied, err := tracker.Apply(context.Background(), ev.Message)
		if err != nil {
			log("gap fill error: %v", err)
			return false
		}
		for _, m := range applied {
			content, _ := m.Content.(string)
			log("message seq=%d type=%s content=%q", m.SequenceNumber, m.Type, content)
		}
	default:
		log("notification %s", msg.Action)
	}
	return false
}

// printTranscript fetches the persisted transcript and prints the collapsed
// display view next to the raw frame count.
func printTranscript(agentID string, tracker *agentstream.GapTracker) {
	msgs, err := fetchMessages(context.Background(), agentID, 0)
	if err != nil {
		log("transcript fetch failed: %v", err)
		return
	}
	display := agentstream.Aggregate(msgs)
	log("transcript: %d persisted frames -> %d display messages (high-water seq %d)",
		len(msgs), len(display), tracker.LastSeq())
}

// fetchMessages is the gap tracker's backfill source, backed by the
// paginated messages endpoint.
func fetchMessages(ctx context.Context, agentID string, sinceSeq int64) ([]*v1.AgentMessage, error) {
	reqURL := fmt.Sprintf("%s/api/v1/agents/%s/messages?since_seq=%d", *server, agentID, sinceSeq)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("messages endpoint returned %s", resp.Status)
	}

	var body struct {
		Messages []*v1.AgentMessage `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	return body.Messages, nil
}

func launchAgent() *v1.Agent {
	body := map[string]interface{}{
		"agent_type": "synthetic",
		"prompt":     "stall until terminated",
		"configuration": map[string]interface{}{
			"schedule": []map[string]interface{}{
				{"delay_ms": 50, "type": "message", "data": map[string]interface{}{"content": "starting up"}},
				{"delay_ms": *holdMS, "type": "complete"},
			},
		},
	}
	data, _ := json.Marshal(body)

	resp, err := http.Post(*server+"/api/v1/agents", "application/json", bytes.NewReader(data))
	if err != nil {
		fail("launch request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		fail("launch returned %s", resp.Status)
	}

	var agent v1.Agent
	if err := json.NewDecoder(resp.Body).Decode(&agent); err != nil || agent.ID == "" {
		fail("decode launch response: %v", err)
	}
	return &agent
}

func terminateAgent(agentID string) {
	data, _ := json.Marshal(map[string]bool{"force": *force})
	resp, err := http.Post(*server+"/api/v1/agents/"+agentID+"/terminate", "application/json", bytes.NewReader(data))
	if err != nil {
		fail("terminate request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		fail("terminate returned %s", resp.Status)
	}
}

func dialGateway() *websocket.Conn {
	u, err := url.Parse(*server)
	if err != nil {
		fail("parse server URL: %v", err)
	}
	scheme := "ws"
	if u.Scheme == "https" {
		scheme = "wss"
	}
	wsURL := fmt.Sprintf("%s://%s/ws", scheme, u.Host)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		fail("dial %s: %v", wsURL, err)
	}
	return conn
}

func subscribe(conn *websocket.Conn, agentID string) {
	req, err := ws.NewRequest("sub-1", ws.ActionAgentSubscribe, map[string]string{"agent_id": agentID})
	if err != nil {
		fail("build subscribe request: %v", err)
	}
	if err := conn.WriteJSON(req); err != nil {
		fail("send subscribe request: %v", err)
	}

	// Broadcast notifications can interleave with the RPC response, and the
	// gateway batches queued frames newline-separated into one websocket
	// message. Scan until the subscribe response shows up.
	waitUntil := time.Now().Add(5 * time.Second)
	for time.Now().Before(waitUntil) {
		_ = conn.SetReadDeadline(waitUntil)
		_, data, err := conn.ReadMessage()
		if err != nil {
			fail("read subscribe response: %v", err)
		}
		for _, line := range bytes.Split(data, []byte("\n")) {
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}
			var msg ws.Message
			if err := json.Unmarshal(line, &msg); err != nil {
				continue
			}
			if msg.Action != ws.ActionAgentSubscribe {
				continue
			}
			if msg.Type == ws.MessageTypeError || !strings.Contains(string(msg.Payload), `"success":true`) {
				fail("subscribe failed: %s", msg.Payload)
			}
			return
		}
	}
	fail("no subscribe response within 5s")
}

func log(format string, args ...interface{}) {
	fmt.Printf("[%s] %s\n", time.Now().Format("15:04:05.000"), fmt.Sprintf(format, args...))
}

func fail(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "FAIL: %s\n", fmt.Sprintf(format, args...))
	os.Exit(1)
}
