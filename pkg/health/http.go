package health

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// StatusRange is an inclusive range of accepted HTTP status codes
type StatusRange struct {
	Min, Max int
}

// DefaultStatusRange accepts 2xx and 3xx answers
var DefaultStatusRange = StatusRange{Min: 200, Max: 399}

// ParseStatusRange parses "200", "200-299" or "2xx"
func ParseStatusRange(s string) (StatusRange, error) {
	s = strings.TrimSpace(s)
	if len(s) == 3 && strings.HasSuffix(strings.ToLower(s), "xx") {
		class, err := strconv.Atoi(s[:1])
		if err != nil || class < 1 || class > 5 {
			return StatusRange{}, fmt.Errorf("invalid status class %q", s)
		}
		return StatusRange{Min: class * 100, Max: class*100 + 99}, nil
	}
	first, last, found := strings.Cut(s, "-")
	lo, err := strconv.Atoi(first)
	if err != nil {
		return StatusRange{}, fmt.Errorf("invalid status %q", s)
	}
	hi := lo
	if found {
		if hi, err = strconv.Atoi(last); err != nil {
			return StatusRange{}, fmt.Errorf("invalid status %q", s)
		}
	}
	if lo < 100 || hi > 599 || lo > hi {
		return StatusRange{}, fmt.Errorf("invalid status range %q", s)
	}
	return StatusRange{Min: lo, Max: hi}, nil
}

func (r StatusRange) contains(code int) bool {
	return code >= r.Min && code <= r.Max
}

func (r StatusRange) String() string {
	if r.Min == r.Max {
		return strconv.Itoa(r.Min)
	}
	return fmt.Sprintf("%d-%d", r.Min, r.Max)
}

// HTTPChecker reports up when a GET of URL answers a status in Accept
type HTTPChecker struct {
	URL     string
	Accept  StatusRange
	Timeout time.Duration

	client *http.Client
}

// NewHTTPChecker creates a checker accepting DefaultStatusRange
func NewHTTPChecker(url string) *HTTPChecker {
	return &HTTPChecker{
		URL:     url,
		Accept:  DefaultStatusRange,
		Timeout: 10 * time.Second,
		// a redirect answer is a valid probe result, do not follow it
		client: &http.Client{
			CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
		},
	}
}

// Check performs the request
func (h *HTTPChecker) Check(ctx context.Context) Result {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, h.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.URL, nil)
	if err != nil {
		return failed(start, fmt.Sprintf("invalid url %s: %v", h.URL, err))
	}
	req.Header.Set("User-Agent", "hive-health")

	resp, err := h.client.Do(req)
	if err != nil {
		return failed(start, fmt.Sprintf("GET %s: %v", h.URL, err))
	}
	defer resp.Body.Close()

	if !h.Accept.contains(resp.StatusCode) {
		return failed(start, fmt.Sprintf("GET %s: status %d, want %s", h.URL, resp.StatusCode, h.Accept))
	}
	return passed(start, fmt.Sprintf("GET %s: status %d", h.URL, resp.StatusCode))
}
