package ticket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/signoff-io/signoff/util"
)

// AttributeSource supplies the request attributes (amount, department,
// type, ...) the definition resolver routes on. It is read exactly once,
// at workflow creation; the terminal outcome travels back to the ticket
// store over the event feed.
type AttributeSource interface {
	GetRequestAttributes(ctx context.Context, requestId string) (map[string]any, error)
}

var _ AttributeSource = new(StaticSource)

// StaticSource serves attributes from memory, for development and tests.
type StaticSource struct {
	mu       sync.RWMutex
	requests map[string]map[string]any
}

func NewStaticSource() *StaticSource {
	return &StaticSource{requests: make(map[string]map[string]any)}
}

func (s *StaticSource) Put(requestId string, attributes map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[requestId] = attributes
}

func (s *StaticSource) GetRequestAttributes(ctx context.Context, requestId string) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	attrs, ok := s.requests[requestId]
	if !ok {
		return nil, fmt.Errorf("request %s not found", requestId)
	}
	return attrs, nil
}

var _ AttributeSource = new(HttpSource)

// HttpSource reads request attributes from the ticket store over HTTP
// with bounded retry.
type HttpSource struct {
	endpoint string
	client   *http.Client
	attempts int
}

func NewHttpSource(endpoint string) *HttpSource {
	return &HttpSource{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 5 * time.Second},
		attempts: 3,
	}
}

func (s *HttpSource) GetRequestAttributes(ctx context.Context, requestId string) (map[string]any, error) {
	var attrs map[string]any
	err := util.Retry(ctx, s.attempts, 200*time.Millisecond, func() error {
		u := fmt.Sprintf("%s/requests/%s/attributes", s.endpoint, url.PathEscape(requestId))
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return err
		}
		resp, err := s.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("ticket store returned status %d", resp.StatusCode)
		}
		return json.NewDecoder(resp.Body).Decode(&attrs)
	})
	if err != nil {
		return nil, err
	}
	return attrs, nil
}
