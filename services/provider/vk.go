package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode"
)

const (
	vkAPIURL     = "https://api.vk.com/method"
	vkAPIVersion = "5.131"
)

var vkURLPattern = regexp.MustCompile(`(?:https?://)?(?:m\.)?vk\.com/([a-zA-Z0-9_.]+)`)

var vkServicePages = map[string]struct{}{
	"wall": {}, "photo": {}, "video": {}, "audio": {}, "feed": {}, "im": {}, "friends": {},
}

// ExtractVKUsername pulls the username or numeric id out of a VK profile URL.
// Service pages (wall, photo, ...) yield an empty string.
func ExtractVKUsername(raw string) string {
	match := vkURLPattern.FindStringSubmatch(raw)
	if match == nil {
		return ""
	}
	username := match[1]
	if _, ok := vkServicePages[username]; ok {
		return ""
	}
	return username
}

// VKLookup resolves VK profile URLs to display names via the VK users.get API.
type VKLookup struct {
	apiURL      string
	accessToken string
	httpc       *http.Client
}

// NewVKLookup creates a lookup client. An empty token is allowed; lookups
// then return no names instead of failing the delivery path.
func NewVKLookup(accessToken string) *VKLookup {
	return &VKLookup{
		apiURL:      vkAPIURL,
		accessToken: accessToken,
		httpc:       &http.Client{Timeout: 10 * time.Second},
	}
}

// SetAPIURL overrides the VK API endpoint, primarily for tests.
func (l *VKLookup) SetAPIURL(u string) { l.apiURL = u }

type vkUser struct {
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	ScreenName string `json:"screen_name"`
}

func (l *VKLookup) userInfo(ctx context.Context, userID string) (*vkUser, error) {
	if l.accessToken == "" {
		return nil, errors.New("vk access token not configured")
	}

	params := url.Values{}
	params.Set("user_ids", userID)
	params.Set("fields", "first_name,last_name,screen_name")
	params.Set("access_token", l.accessToken)
	params.Set("v", vkAPIVersion)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.apiURL+"/users.get?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := l.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("vk api status %d", resp.StatusCode)
	}

	var payload struct {
		Response []vkUser        `json:"response"`
		Error    json.RawMessage `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}
	if len(payload.Error) > 0 {
		return nil, fmt.Errorf("vk api error: %s", payload.Error)
	}
	if len(payload.Response) == 0 {
		return nil, errors.New("vk user not found")
	}
	return &payload.Response[0], nil
}

// NameFromURL resolves a single VK profile URL to "First Last".
func (l *VKLookup) NameFromURL(ctx context.Context, rawURL string) (string, error) {
	username := ExtractVKUsername(rawURL)
	if username == "" {
		return "", errors.New("not a vk profile url")
	}

	info, err := l.userInfo(ctx, username)
	if err != nil {
		return "", err
	}

	switch {
	case info.FirstName != "" && info.LastName != "":
		return info.FirstName + " " + info.LastName, nil
	case info.FirstName != "":
		return info.FirstName, nil
	default:
		return "", errors.New("vk profile has no name")
	}
}

// NamesFromURLs resolves every vk.com URL in the list. Failed lookups are
// skipped; the returned map only holds URLs that resolved.
func (l *VKLookup) NamesFromURLs(ctx context.Context, urls []string) map[string]string {
	names := make(map[string]string)
	for _, u := range urls {
		if !strings.Contains(strings.ToLower(u), "vk.com") {
			continue
		}
		if name, err := l.NameFromURL(ctx, u); err == nil {
			names[u] = name
		}
	}
	return names
}

// GuessNameFromUsername tries patterns like ivan_petrov or ivan.petrov.
// Numeric ids (id123456, club42) yield nothing.
func GuessNameFromUsername(username string) string {
	clean := strings.ToLower(username)
	for _, prefix := range []string{"id", "club", "public"} {
		if rest, ok := strings.CutPrefix(clean, prefix); ok && isDigits(rest) {
			return ""
		}
	}

	parts := regexp.MustCompile(`[._\-]`).Split(username, -1)
	nameParts := make([]string, 0, 2)
	for _, p := range parts {
		if len(p) > 1 {
			nameParts = append(nameParts, capitalize(p))
		}
		if len(nameParts) == 2 {
			break
		}
	}
	if len(nameParts) < 2 {
		return ""
	}
	return strings.Join(nameParts, " ")
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}
