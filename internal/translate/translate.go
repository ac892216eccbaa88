package translate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const AutoDetect = "auto"

var ErrNoTranslation = errors.New("provider returned no translation")

// Client calls the Google gtx translate endpoint. Failures never surface to
// the caller: Translate falls back to the input text, Detect to "auto".
type Client struct {
	endpoint string
	http     *http.Client

	mu    sync.RWMutex
	cache map[string]string
}

func New(endpoint string, timeout time.Duration) *Client {
	return &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: timeout},
		cache:    make(map[string]string),
	}
}

// Translate returns text translated from source to target.
// Blank text is returned as is without calling the provider.
func (c *Client) Translate(ctx context.Context, text, target, source string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}
	if source == "" {
		source = AutoDetect
	}

	key := source + "-" + target + "-" + text
	c.mu.RLock()
	cached, ok := c.cache[key]
	c.mu.RUnlock()
	if ok {
		return cached
	}

	resp, err := c.query(ctx, text, source, target)
	if err != nil {
		log.Warn().Err(err).Str("target", target).Msg("Translation failed, using original text")
		return text
	}

	translated, err := resp.translation()
	if err != nil {
		log.Warn().Err(err).Str("target", target).Msg("Translation failed, using original text")
		return text
	}

	c.mu.Lock()
	c.cache[key] = translated
	c.mu.Unlock()

	return translated
}

// Detect returns the provider's language code for text, or "auto".
func (c *Client) Detect(ctx context.Context, text string) string {
	if strings.TrimSpace(text) == "" {
		return AutoDetect
	}

	resp, err := c.query(ctx, text, AutoDetect, "en")
	if err != nil {
		log.Warn().Err(err).Msg("Language detection failed")
		return AutoDetect
	}

	if lang := resp.detected(); lang != "" {
		return lang
	}
	return AutoDetect
}

// ClearCache drops every cached translation.
func (c *Client) ClearCache() {
	c.mu.Lock()
	c.cache = make(map[string]string)
	c.mu.Unlock()
}

func (c *Client) query(ctx context.Context, text, source, target string) (gtxResponse, error) {
	params := url.Values{}
	params.Set("client", "gtx")
	params.Set("sl", source)
	params.Set("tl", target)
	params.Set("dt", "t")
	params.Set("q", text)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	res, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("translation failed: %d", res.StatusCode)
	}

	var body gtxResponse
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return body, nil
}

// gtxResponse is the positional array the gtx endpoint returns:
// [ [[translated, original, ...], ...], null, "detected-lang", ... ]
type gtxResponse []json.RawMessage

func (r gtxResponse) translation() (string, error) {
	if len(r) == 0 {
		return "", ErrNoTranslation
	}

	var segments [][]any
	if err := json.Unmarshal(r[0], &segments); err != nil {
		return "", ErrNoTranslation
	}

	var b strings.Builder
	for _, seg := range segments {
		if len(seg) == 0 {
			continue
		}
		if s, ok := seg[0].(string); ok {
			b.WriteString(s)
		}
	}
	if b.Len() == 0 {
		return "", ErrNoTranslation
	}
	return b.String(), nil
}

func (r gtxResponse) detected() string {
	if len(r) < 3 {
		return ""
	}
	var lang string
	if err := json.Unmarshal(r[2], &lang); err != nil {
		return ""
	}
	return lang
}
