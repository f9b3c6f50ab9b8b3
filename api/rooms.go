// Package api covers the REST collaborators used only at session start:
// room lookup and room creation.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/Abdul-khadeer-2404/CrewChat/protocol"
)

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrBadRoomID    = errors.New("room id must be 8 letters or digits")

	roomIDPattern = regexp.MustCompile(`^[A-Z0-9]{8}$`)
)

type Client struct {
	base string
	http *http.Client
}

func New(base string) *Client {
	return &Client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 10 * time.Second},
	}
}

type roomResponse struct {
	Success bool           `json:"success"`
	Room    *protocol.Room `json:"room"`
}

// LookupRoom checks that a room exists. IDs are normalized to uppercase
// before the call, matching the server's id alphabet.
func (c *Client) LookupRoom(ctx context.Context, id string) (protocol.Room, error) {
	id = strings.ToUpper(strings.TrimSpace(id))
	if !roomIDPattern.MatchString(id) {
		return protocol.Room{}, ErrBadRoomID
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/api/rooms/"+id, nil)
	if err != nil {
		return protocol.Room{}, err
	}
	return c.do(req)
}

// CreateRoom registers a new room and returns it, id included.
func (c *Client) CreateRoom(ctx context.Context, name, createdBy string) (protocol.Room, error) {
	body, err := json.Marshal(map[string]string{
		"roomName":  name,
		"createdBy": createdBy,
	})
	if err != nil {
		return protocol.Room{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/rooms", bytes.NewReader(body))
	if err != nil {
		return protocol.Room{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *Client) do(req *http.Request) (protocol.Room, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return protocol.Room{}, fmt.Errorf("room api: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var out roomResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return protocol.Room{}, fmt.Errorf("room api: decode response: %w", err)
	}
	if !out.Success || out.Room == nil {
		return protocol.Room{}, ErrRoomNotFound
	}
	return *out.Room, nil
}
