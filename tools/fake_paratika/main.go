// Command fake_paratika serves a local stand-in for the hosted payment page
// API. Point PARATIKA_TEST_URL at http://<addr>/paratika/api/v2.
package main

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"building-cloud/internal/observability/logging"
)

const apiPath = "/paratika/api/v2"

type fakeServer struct {
	start         time.Time
	latency       time.Duration
	defaultStatus string
	failRate      float64
	logger        logging.Logger

	mu         sync.Mutex
	byAction   map[string]int64
	totalCalls int64
	tokenSeq   int64
	sessions   map[string]*session
	byOrder    map[string]*session
}

type session struct {
	Token    string
	OrderID  string
	Amount   string
	Status   string
	Refunded bool
}

func main() {
	addr := getenvDefault("FAKE_PARATIKA_ADDR", ":18081")
	logger := logging.New("fake-paratika", getenvDefault("LOG_LEVEL", "info"))

	srv := &fakeServer{
		start:         time.Now().UTC(),
		latency:       time.Duration(getenvIntDefault("FAKE_PARATIKA_LATENCY_MS", 0)) * time.Millisecond,
		defaultStatus: strings.ToUpper(getenvDefault("FAKE_PARATIKA_STATUS", "")),
		failRate:      getenvFloatDefault("FAKE_PARATIKA_FAIL_RATE", 0),
		logger:        logger,
		byAction:      make(map[string]int64),
		sessions:      make(map[string]*session),
		byOrder:       make(map[string]*session),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", srv.handleHealth)
	mux.HandleFunc("/metrics", srv.handleMetrics)
	mux.HandleFunc(apiPath, srv.handleAPI)
	mux.HandleFunc("/paratika/payment/", srv.handlePaymentPage)

	logger.Infof("fake gateway listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Fatal(err)
	}
}

func (s *fakeServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *fakeServer) handleMetrics(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, map[string]any{
		"started_at": s.start.Format(time.RFC3339),
		"total":      atomic.LoadInt64(&s.totalCalls),
		"by_action":  s.byAction,
		"sessions":   len(s.sessions),
	})
}

func (s *fakeServer) handleAPI(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	if s.latency > 0 {
		time.Sleep(s.latency)
	}
	action := r.PostForm.Get("ACTION")
	s.recordCall(action)

	if r.PostForm.Get("MERCHANT") == "" || r.PostForm.Get("MERCHANTUSER") == "" || r.PostForm.Get("MERCHANTPASSWORD") == "" {
		writeError(w, "ERR10001", "merchant credentials required")
		return
	}
	if s.failRate > 0 && rand.Float64() < s.failRate {
		writeError(w, "ERR10500", "simulated failure")
		return
	}

	switch action {
	case "SESSIONTOKEN":
		s.handleSessionToken(w, r)
	case "QUERYSESSION":
		s.handleQuerySession(w, r)
	case "REFUND":
		s.handleRefund(w, r)
	case "QUERYPAYMENTSYSTEMS":
		writeJSON(w, map[string]any{
			"responseCode": "00",
			"responseMsg":  "Approved",
			"paymentSystems": []map[string]string{
				{"paymentSystem": "VISA"},
				{"paymentSystem": "MASTERCARD"},
				{"paymentSystem": "TROY"},
			},
		})
	default:
		writeError(w, "ERR10002", fmt.Sprintf("unknown action %q", action))
	}
}

func (s *fakeServer) handleSessionToken(w http.ResponseWriter, r *http.Request) {
	orderID := r.PostForm.Get("MERCHANTPAYMENTID")
	if orderID == "" {
		writeError(w, "ERR10003", "MERCHANTPAYMENTID required")
		return
	}
	s.mu.Lock()
	if _, exists := s.byOrder[orderID]; exists {
		s.mu.Unlock()
		writeError(w, "ERR10004", "duplicate merchant payment id")
		return
	}
	token := fmt.Sprintf("FAKE-%d-%d", time.Now().UTC().Unix(), atomic.AddInt64(&s.tokenSeq, 1))
	sess := &session{Token: token, OrderID: orderID, Amount: r.PostForm.Get("AMOUNT"), Status: "OPEN"}
	s.sessions[token] = sess
	s.byOrder[orderID] = sess
	s.mu.Unlock()

	s.logger.WithFields(logging.Fields{"order_id": orderID, "token": token}).Info("session opened")
	writeJSON(w, map[string]any{"responseCode": "00", "responseMsg": "Approved", "sessionToken": token})
}

func (s *fakeServer) handleQuerySession(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	sess, ok := s.sessions[r.PostForm.Get("SESSIONTOKEN")]
	if !ok {
		sess, ok = s.byOrder[r.PostForm.Get("MERCHANTPAYMENTID")]
	}
	var status string
	if ok {
		status = sess.Status
		if s.defaultStatus != "" && status == "OPEN" {
			status = s.defaultStatus
		}
	}
	s.mu.Unlock()
	if !ok {
		writeError(w, "ERR10005", "session not found")
		return
	}
	writeJSON(w, map[string]any{"responseCode": "00", "responseMsg": "Approved", "sessionStatus": status})
}

func (s *fakeServer) handleRefund(w http.ResponseWriter, r *http.Request) {
	orderID := r.PostForm.Get("MERCHANTPAYMENTID")
	s.mu.Lock()
	sess, ok := s.byOrder[orderID]
	var already bool
	if ok {
		already = sess.Refunded
		sess.Refunded = true
	}
	s.mu.Unlock()
	switch {
	case !ok:
		writeError(w, "ERR10005", "transaction not found")
	case already:
		writeError(w, "ERR10010", "transaction already refunded")
	default:
		s.logger.WithField("order_id", orderID).Info("refund approved")
		writeJSON(w, map[string]any{"responseCode": "00", "responseMsg": "Approved"})
	}
}

// handlePaymentPage stands in for the payer. GET completes the session,
// ?result=fail or ?result=cancel settle it the other ways.
func (s *fakeServer) handlePaymentPage(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimPrefix(r.URL.Path, "/paratika/payment/")
	status := "COMPLETED"
	switch r.URL.Query().Get("result") {
	case "fail":
		status = "FAILED"
	case "cancel":
		status = "CANCELLED"
	}
	s.mu.Lock()
	sess, ok := s.sessions[token]
	if ok {
		sess.Status = status
	}
	s.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	s.recordCall("PAYMENTPAGE")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = fmt.Fprintf(w, "<html><body><p>Order %s: %s</p></body></html>", sess.OrderID, status)
}

func (s *fakeServer) recordCall(action string) {
	atomic.AddInt64(&s.totalCalls, 1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if action != "" {
		s.byAction[action]++
	}
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvFloatDefault(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, code, msg string) {
	writeJSON(w, map[string]any{"responseCode": "99", "errorCode": code, "errorMsg": msg})
}
