package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	c "github.com/patrickmn/go-cache"
	"github.com/signoff-io/signoff/util"
)

var _ Client = new(HttpDirectory)

// HttpDirectory talks to an external directory service. Lookups are
// retried with bounded backoff and cached with a short TTL, since role
// and manager data changes rarely compared to how often routing and
// escalation read it.
type HttpDirectory struct {
	endpoint string
	client   *http.Client
	cache    *c.Cache
	attempts int
}

func NewHttpDirectory(endpoint string) *HttpDirectory {
	return &HttpDirectory{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 5 * time.Second},
		cache:    c.New(1*time.Minute, 5*time.Minute),
		attempts: 3,
	}
}

func (d *HttpDirectory) Resolve(ctx context.Context, userId string) (*Entry, error) {
	if cached, found := d.cache.Get("user:" + userId); found {
		e := cached.(Entry)
		return &e, nil
	}
	var entry Entry
	err := util.Retry(ctx, d.attempts, 200*time.Millisecond, func() error {
		return d.getJSON(ctx, fmt.Sprintf("%s/users/%s", d.endpoint, url.PathEscape(userId)), &entry)
	})
	if err != nil {
		return nil, err
	}
	d.cache.Set("user:"+userId, entry, c.DefaultExpiration)
	return &entry, nil
}

func (d *HttpDirectory) FindByRole(ctx context.Context, role string) ([]string, error) {
	if cached, found := d.cache.Get("role:" + role); found {
		return cached.([]string), nil
	}
	var users []string
	err := util.Retry(ctx, d.attempts, 200*time.Millisecond, func() error {
		return d.getJSON(ctx, fmt.Sprintf("%s/roles/%s", d.endpoint, url.PathEscape(role)), &users)
	})
	if err != nil {
		return nil, err
	}
	d.cache.Set("role:"+role, users, c.DefaultExpiration)
	return users, nil
}

func (d *HttpDirectory) getJSON(ctx context.Context, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("directory returned status %d for %s", resp.StatusCode, u)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
