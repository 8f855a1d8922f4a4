// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2026 GRAPE Core Contributors

// Package sdrctl is the SDR control protocol client (spec.md §6 "SDR
// control protocol"): create_channel, tune, set_output_encoding,
// remove_channel, and discover_channels against the SDR's JSON-over-HTTP
// control endpoint, plus the deterministic multicast destination an
// instrument uses to claim ownership of the channels it creates.
package sdrctl

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/gracentral/grapetime/internal/orchestrate"
	"github.com/gracentral/grapetime/internal/rtpio"
)

// Client talks to one SDR's control endpoint over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
	log     zerolog.Logger
}

// NewClient builds a Client against baseURL (e.g. "http://sdr.local:8080").
func NewClient(baseURL string, timeout time.Duration, log zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		log:     log.With().Str("component", "sdrctl").Logger(),
	}
}

// channelWire is the wire shape of one entry in discover_channels' table.
type channelWire struct {
	SSRC        uint32  `json:"ssrc"`
	FrequencyHz float64 `json:"frequency_hz"`
	Preset      string  `json:"preset"`
	SampleRate  int     `json:"sample_rate"`
	Destination string  `json:"destination"`
	Encoding    string  `json:"encoding"`
	GPSTime     float64 `json:"gps_time"`
	RTPTime     uint32  `json:"rtp_timestamp"`
}

func encodingName(e rtpio.Encoding) string {
	switch e {
	case rtpio.EncodingInt16IQ:
		return "int16"
	case rtpio.EncodingFloat32IQ:
		return "float32"
	default:
		return "unknown"
	}
}

func parseEncoding(s string) rtpio.Encoding {
	if s == "float32" {
		return rtpio.EncodingFloat32IQ
	}
	return rtpio.EncodingInt16IQ
}

// DiscoverChannels returns the SDR's current channel table, satisfying
// orchestrate.SDRController.
func (c *Client) DiscoverChannels() ([]orchestrate.SDRChannel, error) {
	var wire []channelWire
	if err := c.get("/discover_channels", &wire); err != nil {
		return nil, err
	}
	out := make([]orchestrate.SDRChannel, 0, len(wire))
	for _, w := range wire {
		out = append(out, orchestrate.SDRChannel{
			SSRC:        w.SSRC,
			FrequencyHz: w.FrequencyHz,
			Preset:      w.Preset,
			SampleRate:  w.SampleRate,
			Destination: w.Destination,
			Encoding:    parseEncoding(w.Encoding),
			GPSTime:     w.GPSTime,
			RTPTime:     w.RTPTime,
		})
	}
	return out, nil
}

type createChannelRequest struct {
	FrequencyHz float64 `json:"frequency_hz"`
	Preset      string  `json:"preset"`
	SampleRate  int     `json:"sample_rate"`
	Destination string  `json:"destination"`
	Encoding    string  `json:"encoding"`
}

type createChannelResponse struct {
	SSRC uint32 `json:"ssrc"`
}

// CreateChannel issues create_channel and returns the allocated SSRC.
// The request is idempotent per spec.md §6: calling it again for a
// destination that already owns a matching channel is safe.
func (c *Client) CreateChannel(freqHz float64, preset string, sampleRate int, destination string, encoding rtpio.Encoding) (uint32, error) {
	var resp createChannelResponse
	err := c.post("/create_channel", createChannelRequest{
		FrequencyHz: freqHz,
		Preset:      preset,
		SampleRate:  sampleRate,
		Destination: destination,
		Encoding:    encodingName(encoding),
	}, &resp)
	if err != nil {
		return 0, err
	}
	return resp.SSRC, nil
}

type tuneRequest struct {
	SSRC       uint32 `json:"ssrc"`
	Preset     string `json:"preset"`
	SampleRate int    `json:"sample_rate"`
}

// Tune issues tune(ssrc, preset, sample_rate).
func (c *Client) Tune(ssrc uint32, preset string, sampleRate int) error {
	return c.post("/tune", tuneRequest{SSRC: ssrc, Preset: preset, SampleRate: sampleRate}, nil)
}

type setEncodingRequest struct {
	SSRC     uint32 `json:"ssrc"`
	Encoding string `json:"encoding"`
}

// SetOutputEncoding issues set_output_encoding(ssrc, encoding).
func (c *Client) SetOutputEncoding(ssrc uint32, encoding rtpio.Encoding) error {
	return c.post("/set_output_encoding", setEncodingRequest{SSRC: ssrc, Encoding: encodingName(encoding)}, nil)
}

type removeChannelRequest struct {
	SSRC uint32 `json:"ssrc"`
}

// RemoveChannel issues remove_channel(ssrc).
func (c *Client) RemoveChannel(ssrc uint32) error {
	return c.post("/remove_channel", removeChannelRequest{SSRC: ssrc}, nil)
}

func (c *Client) get(path string, out interface{}) error {
	resp, err := c.http.Get(c.baseURL + path)
	if err != nil {
		return fmt.Errorf("sdrctl: GET %s: %w", path, err)
	}
	defer resp.Body.Close()
	return decodeResponse(path, resp, out)
}

func (c *Client) post(path string, body interface{}, out interface{}) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("sdrctl: marshal %s request: %w", path, err)
	}
	resp, err := c.http.Post(c.baseURL+path, "application/json", bytes.NewReader(buf))
	if err != nil {
		return fmt.Errorf("sdrctl: POST %s: %w", path, err)
	}
	defer resp.Body.Close()
	return decodeResponse(path, resp, out)
}

func decodeResponse(path string, resp *http.Response, out interface{}) error {
	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("sdrctl: %s returned %d: %s", path, resp.StatusCode, string(msg))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("sdrctl: decode %s response: %w", path, err)
	}
	return nil
}

