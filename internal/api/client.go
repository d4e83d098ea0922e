package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/bz888/studyhelper/internal/api/server"
	"github.com/bz888/studyhelper/internal/controller"
	"github.com/bz888/studyhelper/internal/logger"
	"github.com/pkg/errors"
)

var ErrBusy = errors.New("server is busy with another exchange")

// Remote talks to a running studyhelper server.
type Remote struct {
	baseURL string
	http    *http.Client
	log     *logger.Logger
}

func NewRemote(baseURL string, httpClient *http.Client) *Remote {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	return &Remote{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		log:     logger.NewLogger("api client"),
	}
}

func (r *Remote) ListModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/models", nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to perform models request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, remoteError(resp)
	}
	var models server.ModelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&models); err != nil {
		return nil, errors.Wrap(err, "failed to decode models response")
	}
	return models.Models, nil
}

// Chat sends text and hands every event of the exchange to fn as it arrives.
func (r *Remote) Chat(ctx context.Context, text string, fn func(controller.Event) error) error {
	requestData, err := json.Marshal(server.ChatRequest{Text: text})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/chat", bytes.NewReader(requestData))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/x-ndjson")

	resp, err := r.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "failed to send request")
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusConflict:
		return ErrBusy
	default:
		return remoteError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var ev controller.Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			r.log.Error().Err(err).Msg("failed to decode event")
			continue
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrap(err, "failed to read stream")
	}
	return nil
}

func (r *Remote) Stop(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/stop", nil)
	if err != nil {
		return false, err
	}
	resp, err := r.http.Do(req)
	if err != nil {
		return false, errors.Wrap(err, "failed to send stop")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, remoteError(resp)
	}
	var stopped server.StopResponse
	if err := json.NewDecoder(resp.Body).Decode(&stopped); err != nil {
		return false, err
	}
	return stopped.Stopped, nil
}

func remoteError(resp *http.Response) error {
	var apiErr server.ErrorResponse
	_ = json.NewDecoder(resp.Body).Decode(&apiErr)
	if apiErr.Error == "" {
		apiErr.Error = resp.Status
	}
	return fmt.Errorf("received non-200 response: %d, error: %s", resp.StatusCode, apiErr.Error)
}
