package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
)

// Role is the group a member belongs to.
type Role string

const (
	RoleWriter Role = "writer"
	RoleReader Role = "reader"
)

// MemberInfo describes one process taking part in a stream.
//
// Addr is the member's HTTP address (health and metrics). FetchAddr is
// where writers serve remote fetches, as host:port or a multiaddr; readers
// leave it empty. Rank is assigned by the hub at registration.
type MemberInfo struct {
	ID        string `json:"id"`
	Role      Role   `json:"role"`
	Addr      string `json:"addr"`
	FetchAddr string `json:"fetch_addr,omitempty"`
	Rank      int    `json:"rank"`
}

type RegisterRequest struct {
	Member MemberInfo `json:"member"`
}

type RegisterResponse struct {
	Rank    int `json:"rank"`
	Writers int `json:"writers"`
	Readers int `json:"readers"`
}

// MembersResponse lists registered members in rank order. Complete is set
// once every expected writer and reader has registered.
type MembersResponse struct {
	Members  []MemberInfo `json:"members"`
	Complete bool         `json:"complete"`
}

// CollectiveRequest is one rank's contribution to a collective round.
// Payload is carried base64-encoded by encoding/json.
type CollectiveRequest struct {
	Seq     uint64 `json:"seq"`
	Op      Op     `json:"op"`
	Root    int    `json:"root"`
	Rank    int    `json:"rank"`
	Payload []byte `json:"payload,omitempty"`
}

type CollectiveResponse struct {
	Payload []byte `json:"payload,omitempty"`
	Sizes   []int  `json:"sizes,omitempty"`
}

// ErrorResponse is the body of a failed hub request.
type ErrorResponse struct {
	Error string `json:"error"`
}

const encodingBrotli = "br"

var httpClient = &http.Client{Timeout: 5 * time.Second}

// PostJSON sends body as a brotli-compressed JSON POST and decodes the
// response into out when out is non-nil.
func PostJSON(ctx context.Context, url string, body any, out any) error {
	return doJSON(ctx, httpClient, http.MethodPost, url, body, out)
}

// GetJSON fetches url and decodes the JSON response into out.
func GetJSON(ctx context.Context, url string, out any) error {
	return doJSON(ctx, httpClient, http.MethodGet, url, nil, out)
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	URL     string
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("http %s: %d: %s", e.URL, e.Code, e.Message)
	}
	return fmt.Sprintf("http %s: %d", e.URL, e.Code)
}

func doJSON(ctx context.Context, hc *http.Client, method, url string, body any, out any) error {
	var reqBody io.Reader
	if body != nil {
		var buf bytes.Buffer
		bw := brotli.NewWriterLevel(&buf, brotli.DefaultCompression)
		if err := json.NewEncoder(bw).Encode(body); err != nil {
			return err
		}
		if err := bw.Close(); err != nil {
			return err
		}
		reqBody = &buf
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Content-Encoding", encodingBrotli)
	}
	req.Header.Set("Accept-Encoding", encodingBrotli)
	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	rd := io.Reader(resp.Body)
	if strings.EqualFold(resp.Header.Get("Content-Encoding"), encodingBrotli) {
		rd = brotli.NewReader(resp.Body)
	}
	if resp.StatusCode >= 300 {
		var e ErrorResponse
		_ = json.NewDecoder(rd).Decode(&e)
		return &StatusError{URL: url, Code: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(rd).Decode(out)
}

// ReadJSON decodes a request body written by PostJSON. Uncompressed bodies
// are accepted too.
func ReadJSON(r *http.Request, v any) error {
	rd := io.Reader(r.Body)
	if strings.EqualFold(r.Header.Get("Content-Encoding"), encodingBrotli) {
		rd = brotli.NewReader(r.Body)
	}
	return json.NewDecoder(rd).Decode(v)
}

// WriteJSON writes v with the given status, compressing it with brotli when
// the client accepts it.
func WriteJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	if r != nil && strings.Contains(r.Header.Get("Accept-Encoding"), encodingBrotli) {
		w.Header().Set("Content-Encoding", encodingBrotli)
		w.WriteHeader(status)
		bw := brotli.NewWriter(w)
		_ = json.NewEncoder(bw).Encode(v)
		_ = bw.Close()
		return
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes an ErrorResponse.
func WriteError(w http.ResponseWriter, r *http.Request, status int, err error) {
	WriteJSON(w, r, status, ErrorResponse{Error: err.Error()})
}
