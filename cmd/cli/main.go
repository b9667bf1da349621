package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// Operator CLI: drives a running order-service + payment-simulator pair
// through the checkout lifecycle.

type scenario struct {
	Name        string
	Description string
}

type model struct {
	scenarios []scenario
	selected  int
	status    string
	metrics   string
	busy      bool
}

func initialModel() model {
	return model{
		scenarios: []scenario{
			{"checkout", "Create a checkout session"},
			{"complete", "Checkout, then complete payment (webhook fires)"},
			{"redeliver", "Complete, then redeliver the same webhook event"},
			{"cancel", "Complete, then cancel the resulting order"},
			{"bench", "Concurrent session-creation benchmark"},
		},
		status: "Ready",
	}
}

func (m model) Init() tea.Cmd {
	return nil
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "up":
			if m.selected > 0 {
				m.selected--
			}
		case "down":
			if m.selected < len(m.scenarios)-1 {
				m.selected++
			}
		case "enter":
			if m.busy {
				return m, nil
			}
			m.busy = true
			m.status = "Running..."
			return m, runScenarioCmd(m.scenarios[m.selected].Name)
		}
	case scenarioResult:
		m.busy = false
		m.status = msg.status
		m.metrics = msg.metrics
	}
	return m, nil
}

func (m model) View() string {
	b := &strings.Builder{}
	fmt.Fprintln(b, "farmshop-orders-go CLI")
	fmt.Fprintln(b, "")
	fmt.Fprintln(b, "Scenarios:")
	for i, scn := range m.scenarios {
		marker := " "
		if i == m.selected {
			marker = ">"
		}
		fmt.Fprintf(b, " %s %s - %s\n", marker, scn.Name, scn.Description)
	}
	fmt.Fprintln(b, "")
	fmt.Fprintf(b, "Status: %s\n", m.status)
	if m.metrics != "" {
		fmt.Fprintf(b, "Metrics: %s\n", m.metrics)
	}
	fmt.Fprintln(b, "\nControls: up/down select, enter to run, q to quit")
	return b.String()
}

type scenarioResult struct {
	status  string
	metrics string
}

const demoEmail = "cli-demo@example.com"

func runScenarioCmd(scn string) tea.Cmd {
	return func() tea.Msg {
		orderBase := getenv("ORDER_BASE_URL", "http://localhost:8080")
		simBase := getenv("SIMULATOR_BASE_URL", "http://localhost:8090")
		productID := getenv("DEMO_PRODUCT_ID", "p1")

		switch scn {
		case "checkout":
			sess, err := createSession(orderBase, productID)
			if err != nil {
				return scenarioResult{status: fmt.Sprintf("Checkout failed: %v", err)}
			}
			return scenarioResult{status: fmt.Sprintf("Session %s -> %s", sess.ID, sess.URL)}

		case "complete":
			order, err := completeFlow(orderBase, simBase, productID, false)
			if err != nil {
				return scenarioResult{status: fmt.Sprintf("Complete failed: %v", err)}
			}
			return scenarioResult{status: fmt.Sprintf("Order %s (%s) status=%s total=%d", order.ID, order.Number, order.Status, order.Total)}

		case "redeliver":
			order, err := completeFlow(orderBase, simBase, productID, true)
			if err != nil {
				return scenarioResult{status: fmt.Sprintf("Redeliver failed: %v", err)}
			}
			return scenarioResult{status: fmt.Sprintf("Order %s survived duplicate delivery (status=%s)", order.Number, order.Status)}

		case "cancel":
			order, err := completeFlow(orderBase, simBase, productID, false)
			if err != nil {
				return scenarioResult{status: fmt.Sprintf("Cancel setup failed: %v", err)}
			}
			cancelled, err := cancelOrder(orderBase, order.ID, demoEmail)
			if err != nil {
				return scenarioResult{status: fmt.Sprintf("Cancel failed: %v", err)}
			}
			return scenarioResult{status: fmt.Sprintf("Order %s status=%s (stock restored)", cancelled.Number, cancelled.Status)}

		case "bench":
			return scenarioResult{status: "Benchmark finished", metrics: runBenchmark(orderBase, productID)}

		default:
			return scenarioResult{status: "Unknown scenario: " + scn}
		}
	}
}

type sessionResp struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type orderResp struct {
	ID     string `json:"id"`
	Number string `json:"number"`
	Status string `json:"status"`
	Total  int64  `json:"total"`
}

func createSession(orderBase, productID string) (sessionResp, error) {
	payload := map[string]any{
		"cart_items": []map[string]any{{"product_id": productID, "quantity": 1}},
		"customer_info": map[string]any{
			"name": "CLI Demo", "email": demoEmail, "phone": "555-0100",
			"address": "1 Farm Lane", "city": "Springfield", "postal_code": "12345",
		},
	}
	var sess sessionResp
	err := postJSON(orderBase+"/checkout/session", payload, nil, &sess)
	return sess, err
}

func completeFlow(orderBase, simBase, productID string, redeliver bool) (orderResp, error) {
	sess, err := createSession(orderBase, productID)
	if err != nil {
		return orderResp{}, err
	}
	completeURL := fmt.Sprintf("%s/v1/checkout/sessions/%s/complete", strings.TrimRight(simBase, "/"), sess.ID)
	if err := postJSON(completeURL, map[string]any{}, nil, nil); err != nil {
		return orderResp{}, err
	}
	if redeliver {
		if err := postJSON(completeURL+"?redeliver=true", map[string]any{}, nil, nil); err != nil {
			return orderResp{}, err
		}
	}
	// The webhook is asynchronous from the storefront's point of view;
	// poll briefly like the success page would.
	var order orderResp
	for i := 0; i < 20; i++ {
		err = getJSON(fmt.Sprintf("%s/orders/session/%s", orderBase, sess.ID), &order)
		if err == nil {
			return order, nil
		}
		time.Sleep(250 * time.Millisecond)
	}
	return orderResp{}, fmt.Errorf("order not visible after webhook: %v", err)
}

func cancelOrder(orderBase, orderID, actorEmail string) (orderResp, error) {
	var order orderResp
	err := postJSON(fmt.Sprintf("%s/orders/%s/cancel", orderBase, orderID), map[string]any{},
		map[string]string{"X-Actor-Email": actorEmail}, &order)
	return order, err
}

func postJSON(url string, payload any, headers map[string]string, out any) error {
	data, _ := json.Marshal(payload)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return do(req, out)
}

func getJSON(url string, out any) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	return do(req, out)
}

func do(req *http.Request, out any) error {
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if out != nil {
		return json.Unmarshal(body, out)
	}
	return nil
}

func runBenchmark(orderBase, productID string) string {
	duration := 5 * time.Second
	vus := 5
	var mu sync.Mutex
	var total time.Duration
	var count int
	var errors int
	ctx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < vus; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				default:
					start := time.Now()
					_, err := createSession(orderBase, productID)
					mu.Lock()
					if err != nil {
						errors++
					} else {
						count++
						total += time.Since(start)
					}
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	avg := time.Duration(0)
	if count > 0 {
		avg = total / time.Duration(count)
	}
	throughput := float64(count) / duration.Seconds()
	return fmt.Sprintf("count=%d errors=%d avg=%s throughput=%.2f sessions/s", count, errors, avg, throughput)
}

func main() {
	runCmd := flag.String("run", "", "run scenario: checkout|complete|redeliver|cancel|bench")
	flag.Parse()

	if *runCmd != "" {
		res := runScenarioCmd(*runCmd)().(scenarioResult)
		fmt.Println(res.status)
		if res.metrics != "" {
			fmt.Println(res.metrics)
		}
		return
	}

	p := tea.NewProgram(initialModel())
	if _, err := p.Run(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func getenv(k, def string) string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	return v
}
