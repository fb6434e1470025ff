package broker

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// DefaultDialTimeout bounds liveness probes against a dead socket.
const DefaultDialTimeout = 200 * time.Millisecond

// RequestError is a structured error the broker answered with
// (invalid_json, empty_prompt, ...), as opposed to a transport failure.
type RequestError struct {
	Code string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("broker error: %s", e.Code)
}

// Ping reports whether a live broker answers on socketPath within
// timeout. Dial and read failures mean "not alive", never an error:
// callers use this to decide whether to start a broker.
func Ping(socketPath string, timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}
	response, err := roundTrip(socketPath, Request{Kind: KindPing}, timeout)
	if err != nil {
		return false
	}
	return response.OK && strings.Contains(response.Kind, "pong")
}

// Info fetches the broker's static identity. Used to detect a broker
// serving a different configuration.
func Info(socketPath string, timeout time.Duration) (Response, error) {
	if timeout <= 0 {
		timeout = 300 * time.Millisecond
	}
	response, err := roundTrip(socketPath, Request{Kind: KindInfo}, timeout)
	if err != nil {
		return Response{}, err
	}
	if !response.OK {
		return Response{}, &RequestError{Code: response.Error}
	}
	return response, nil
}

// Prompt submits a prompt and blocks until the broker answers. There
// is no client-side timeout by default: assistant invocations are
// legitimately slow, and the broker owns the serialized critical
// section. Transport failures surface as errors and are never retried
// here.
func Prompt(socketPath, prompt, personaKey, requestID string) (Response, error) {
	request := Request{
		Kind:      KindPrompt,
		Prompt:    prompt,
		Persona:   personaKey,
		RequestID: requestID,
	}
	response, err := roundTrip(socketPath, request, 0)
	if err != nil {
		return Response{}, err
	}
	if !response.OK {
		return Response{}, &RequestError{Code: response.Error}
	}
	return response, nil
}

func roundTrip(socketPath string, request Request, timeout time.Duration) (Response, error) {
	raw, err := json.Marshal(request)
	if err != nil {
		return Response{}, fmt.Errorf("encode request: %w", err)
	}
	raw = append(raw, '\n')

	var conn net.Conn
	if timeout > 0 {
		conn, err = net.DialTimeout("unix", socketPath, timeout)
	} else {
		conn, err = net.Dial("unix", socketPath)
	}
	if err != nil {
		return Response{}, fmt.Errorf("connect to broker at %s: %w", socketPath, err)
	}
	defer conn.Close()

	if timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(timeout))
	}
	if _, err := conn.Write(raw); err != nil {
		return Response{}, fmt.Errorf("send request: %w", err)
	}

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil && line == "" {
		return Response{}, fmt.Errorf("read broker response: %w", err)
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return Response{}, errors.New("empty broker response")
	}

	var response Response
	if err := json.Unmarshal([]byte(line), &response); err != nil {
		return Response{}, fmt.Errorf("decode broker response: %w", err)
	}
	return response, nil
}
