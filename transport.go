package trombi

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/golang/glog"
)

const defaultRequestTimeout = 60 * time.Second
const defaultConnectTimeout = 5 * time.Second
const defaultTLSTimeout = 5 * time.Second

func defaultHTTPClient() *http.Client {
	dialer := &net.Dialer{
		Timeout: defaultConnectTimeout,
	}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: defaultTLSTimeout,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   defaultRequestTimeout,
	}
}

// feedClient derives a client for requests that are expected to stay open
// longer than the per-request timeout allows. Everything else about the
// configured client (transport, redirect policy, cookie jar) carries over.
func (s *Server) feedClient() *http.Client {
	client := *s.client
	client.Timeout = 0
	return &client
}

// send issues one request and returns the response with its body still
// open. Transport-level failure maps to ConnectionFailed; the caller never
// sees a raw net error except for context cancellation, which is passed
// through so deliberate aborts stay distinguishable.
func (s *Server) send(ctx context.Context, method, rawurl, contentType string, body []byte, header http.Header) (*http.Response, error) {
	return s.sendWith(ctx, s.client, method, rawurl, contentType, body, header)
}

func (s *Server) sendWith(ctx context.Context, client *http.Client, method, rawurl, contentType string, body []byte, header http.Header) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawurl, reader)
	if err != nil {
		return nil, err
	}
	if contentType == "" {
		contentType = "application/json"
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if s.cred != nil {
		req.SetBasicAuth(s.cred.user, s.cred.password)
	}
	if cookie := s.Session(); cookie != "" {
		req.Header.Set("Cookie", cookie)
	}

	glog.V(2).Infof("[trombi]%s %s\n", method, rawurl)
	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		glog.V(2).Infof("[trombi]%s %s unreachable: %v\n", method, rawurl, err)
		return nil, connectionFailed()
	}
	return resp, nil
}

// fetch runs one request to completion and hands back status and body.
func (s *Server) fetch(ctx context.Context, method, rawurl, contentType string, body []byte) (int, []byte, error) {
	resp, err := s.send(ctx, method, rawurl, contentType, body, nil)
	if err != nil {
		return 0, nil, err
	}
	return drain(resp)
}

func drain(resp *http.Response) (int, []byte, error) {
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, connectionFailed()
	}
	return resp.StatusCode, data, nil
}
